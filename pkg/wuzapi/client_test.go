package wuzapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commhub-backend/pkg/errs"
)

func TestSendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/send/text" || r.Header.Get("Token") != "tok" {
			t.Errorf("unexpected request %s token=%q", r.URL.Path, r.Header.Get("Token"))
		}
		var req sendTextRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Phone != "5511999999999" || req.Body != "hi" {
			t.Errorf("unexpected body %+v", req)
		}
		_, _ = w.Write([]byte(`{"code":200,"success":true,"data":{"Details":"Sent","Id":"ABC123"}}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "tok", 5*time.Second).SendText(context.Background(), "+55 11 99999-9999", "hi")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if id != "ABC123" {
		t.Fatalf("expected ABC123, got %q", id)
	}
}

func TestSendTextClassifiesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":401,"success":false,"error":"unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad", time.Second).SendText(context.Background(), "+1555", "hi")
	if !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"message.received"}`)
	sig := Sign("s3cret", body)

	if !VerifySignature("s3cret", body, sig) || !VerifySignature("s3cret", body, "sha256="+sig) {
		t.Fatalf("expected valid signature")
	}
	if VerifySignature("s3cret", body, "deadbeef") || VerifySignature("s3cret", body, "") {
		t.Fatalf("expected invalid signature to fail")
	}
	if !VerifySignature("", body, "") {
		t.Fatalf("expected empty secret to disable verification")
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"5511999999999@s.whatsapp.net":    "+5511999999999",
		"5511999999999:12@s.whatsapp.net": "+5511999999999",
		"+1 (555) 000-1111":               "+15550001111",
		"":                                "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q): expected %q, got %q", in, want, got)
		}
	}
}
