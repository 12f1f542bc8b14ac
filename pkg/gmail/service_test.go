package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func newTestMailbox(t *testing.T, handler http.HandlerFunc) *Mailbox {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("gmail.NewService: %v", err)
	}
	return NewMailbox(svc)
}

func TestHistorySkipsSentAndPages(t *testing.T) {
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("startHistoryId") != "100" {
			t.Errorf("unexpected start %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"history":[{"id":"101","messagesAdded":[{"message":{"id":"m1","labelIds":["INBOX"]}}]},
				{"id":"102","messagesAdded":[{"message":{"id":"m2","labelIds":["SENT"]}}]}],"nextPageToken":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"history":[{"id":"105","messagesAdded":[{"message":{"id":"m3","labelIds":["INBOX"]}}]}],"historyId":"107"}`))
	})

	entries, latest, err := mb.History(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if latest != 107 {
		t.Fatalf("expected latest history id 107, got %d", latest)
	}
	if len(entries) != 2 || entries[0].MessageID != "m1" || entries[1].HistoryID != 105 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestHistoryLimitKeepsRecordsWhole(t *testing.T) {
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"history":[
			{"id":"201","messagesAdded":[{"message":{"id":"a1","labelIds":["INBOX"]}}]},
			{"id":"202","messagesAdded":[{"message":{"id":"b1","labelIds":["INBOX"]}},{"message":{"id":"b2","labelIds":["INBOX"]}}]}
			],"nextPageToken":"more"}`))
	})

	entries, latest, err := mb.History(context.Background(), 200, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if latest != 0 {
		t.Fatalf("expected a cut listing to report no latest id, got %d", latest)
	}
	if len(entries) != 1 || entries[0].MessageID != "a1" {
		t.Fatalf("expected the split record to be dropped, got %+v", entries)
	}
}

func TestRecordBoundary(t *testing.T) {
	entries := []HistoryEntry{{HistoryID: 1}, {HistoryID: 1}, {HistoryID: 1}, {HistoryID: 2}}
	if got := recordBoundary(entries, 2); got != 3 {
		t.Fatalf("expected an oversized first record kept whole, got %d", got)
	}
	if got := recordBoundary(entries, 3); got != 3 {
		t.Fatalf("expected cut at the record edge, got %d", got)
	}
}

func TestHistoryExpired(t *testing.T) {
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
	})

	if _, _, err := mb.History(context.Background(), 1, 0); err != ErrHistoryExpired {
		t.Fatalf("expected ErrHistoryExpired, got %v", err)
	}
}

func TestGetMessagePrefersPlainText(t *testing.T) {
	plain := base64.URLEncoding.EncodeToString([]byte("hello there"))
	html := base64.URLEncoding.EncodeToString([]byte("<p>hello there</p>"))
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","threadId":"t1","historyId":"120","internalDate":"1714557600000",
			"payload":{"mimeType":"multipart/alternative","headers":[
				{"name":"From","value":"\"Alice\" <Alice@Example.com>"},
				{"name":"Subject","value":"Order"},
				{"name":"Message-Id","value":"<x1@example.com>"}],
			"parts":[{"mimeType":"text/html","body":{"data":"` + html + `"}},{"mimeType":"text/plain","body":{"data":"` + plain + `"}}]}}`))
	})

	msg, err := mb.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.From != "alice@example.com" || msg.FromName != "Alice" {
		t.Fatalf("unexpected sender %q %q", msg.From, msg.FromName)
	}
	if msg.MessageID != "x1@example.com" || msg.Text() != "hello there" || msg.HistoryID != 120 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.ReceivedAt.Unix() != 1714557600 {
		t.Fatalf("unexpected received at %v", msg.ReceivedAt)
	}
}
