package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestSendWhatsApp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			t.Errorf("missing basic auth")
		}
		if r.URL.Path != "/Accounts/AC1/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.Form.Get("To") != "whatsapp:+15550001" || r.Form.Get("From") != "whatsapp:+15559999" {
			t.Errorf("unexpected form %v", r.Form)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	sid, err := NewClient(srv.URL, "AC1", "tok", "+15559999", 5*time.Second).SendWhatsApp(context.Background(), "+15550001", "hello")
	if err != nil {
		t.Fatalf("SendWhatsApp: %v", err)
	}
	if sid != "SM123" {
		t.Fatalf("expected SM123, got %s", sid)
	}
}

func TestParseInbound(t *testing.T) {
	form := url.Values{
		"MessageSid":        {"SM1"},
		"From":              {"whatsapp:+15550001"},
		"Body":              {"hi"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"image/jpeg"},
	}
	msg, err := ParseInbound(form)
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if msg.NumMedia != 1 || msg.MediaType != "image/jpeg" || StripScheme(msg.From) != "+15550001" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if _, err := ParseInbound(url.Values{"Body": {"x"}}); err == nil {
		t.Fatalf("expected error without From")
	}
}

func TestValidateSignature(t *testing.T) {
	form := url.Values{"From": {"whatsapp:+1"}, "Body": {"hi"}}
	u := "https://hooks.example.com/webhooks/twilio"
	sig := ComputeSignature("tok", u, form)

	if !ValidateSignature("tok", u, form, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidateSignature("tok", u+"?x=1", form, sig) {
		t.Fatalf("expected signature for a different url to fail")
	}
	if !ValidateSignature("", u, form, "") {
		t.Fatalf("expected empty token to disable validation")
	}
}
