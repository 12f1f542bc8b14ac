package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	calldomain "commhub-backend/internal/call/domain"
	ingestdomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/cloudpbx"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/gmail"
	"commhub-backend/pkg/twilio"
	"commhub-backend/pkg/wuzapi"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func testSources() []syncdomain.Source {
	return []syncdomain.Source{
		{ID: "wa-sales", Channel: syncdomain.ChannelChat, Provider: "wuzapi", Identity: "sales"},
		{ID: "tw-1", Channel: syncdomain.ChannelChat, Provider: "twilio", Identity: "+1 555 0100"},
		{ID: "tw-2", Channel: syncdomain.ChannelChat, Provider: "twilio", Identity: "+15550200"},
		{ID: "pbx", Channel: syncdomain.ChannelVoice, Provider: "cloudpbx"},
		{ID: "old", Channel: syncdomain.ChannelChat, Provider: "wuzapi", Identity: "old", Disabled: true},
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testSources(),
		NewWuzapiAdapter(time.Second),
		NewTwilioAdapter("", time.Second, nil),
		NewCloudPBXAdapter(time.Second, time.Minute, time.Hour, 10),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistryResolvePush(t *testing.T) {
	r := testRegistry(t)

	src, err := r.ResolvePush("twilio", "", "+15550100")
	if err != nil || src.ID != "tw-1" {
		t.Fatalf("expected tw-1 by phone digits, got %v %v", src, err)
	}
	if _, err := r.ResolvePush("twilio", "", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ambiguity to fail, got %v", err)
	}
	if src, err := r.ResolvePush("cloudpbx", "", ""); err != nil || src.ID != "pbx" {
		t.Fatalf("expected the only pbx source, got %v %v", src, err)
	}
	if _, err := r.ResolvePush("wuzapi", "old", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected disabled source to be rejected, got %v", err)
	}
	if got := len(r.Active(syncdomain.ChannelChat)); got != 3 {
		t.Fatalf("expected 3 active chat sources, got %d", got)
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	_, err := NewRegistry([]syncdomain.Source{{ID: "x", Channel: syncdomain.ChannelChat, Provider: "telegram"}}, NewWuzapiAdapter(time.Second))
	if err == nil {
		t.Fatalf("expected error for a source without adapter")
	}
}

func TestWuzapiParsePush(t *testing.T) {
	a := NewWuzapiAdapter(time.Second)
	src := &syncdomain.Source{ID: "wa", Provider: "wuzapi", Credentials: map[string]string{"webhook_secret": "s"}}
	body := []byte(`{"type":"Message","instanceId":"sales","message":{"messageId":"LEGACY1","from":"5511999990000@s.whatsapp.net","pushName":"Ana","type":"image","caption":"receipt","mediaUrl":"https://cdn/x.jpg","mimetype":"image/jpeg","timestamp":1714557600}}`)
	push := ingestdomain.Push{Body: body, Header: map[string]string{"X-Wuzapi-Signature": wuzapi.Sign("s", body)}}

	if err := a.VerifyPush(src, push); err != nil {
		t.Fatalf("VerifyPush: %v", err)
	}
	if a.Identify(push) != "sales" {
		t.Fatalf("expected instance id as identity")
	}

	records, err := a.ParsePush(context.Background(), src, push)
	if err != nil {
		t.Fatalf("ParsePush: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	msg := records[0].Message
	primary, alt := msg.DedupKey()
	if primary != "LEGACY1" || alt != "" {
		t.Fatalf("expected legacy id as dedup key, got %q %q", primary, alt)
	}
	if msg.From != "+5511999990000" || msg.Text != "receipt" || msg.MediaKind != "image" {
		t.Fatalf("unexpected message %+v", msg)
	}

	fromMe := []byte(`{"type":"Message","message":{"id":"A","from":"1@s.whatsapp.net","fromMe":true}}`)
	if records, err := a.ParsePush(context.Background(), src, ingestdomain.Push{Body: fromMe}); err != nil || len(records) != 0 {
		t.Fatalf("expected own messages to be ignored, got %v %v", records, err)
	}
	if _, err := a.ParsePush(context.Background(), src, ingestdomain.Push{Body: []byte("{")}); !errors.Is(err, errs.ErrMapping) {
		t.Fatalf("expected mapping error, got %v", err)
	}
}

func TestTwilioParseAndVerify(t *testing.T) {
	a := NewTwilioAdapter("", time.Second, nil)
	src := &syncdomain.Source{ID: "tw-1", Provider: "twilio", Credentials: map[string]string{"auth_token": "tok"}}
	form := url.Values{
		"MessageSid":  {"SM1"},
		"SmsSid":      {"SM1"},
		"From":        {"whatsapp:+15550001"},
		"To":          {"whatsapp:+15550100"},
		"ProfileName": {"Bob"},
		"Body":        {"hello"},
		"NumMedia":    {"0"},
	}
	hookURL := "https://example.com/webhooks/twilio"
	push := ingestdomain.Push{
		Body:   []byte(form.Encode()),
		URL:    hookURL,
		Header: map[string]string{"X-Twilio-Signature": twilio.ComputeSignature("tok", hookURL, form)},
	}

	if err := a.VerifyPush(src, push); err != nil {
		t.Fatalf("VerifyPush: %v", err)
	}
	if a.Identify(push) != "+15550100" {
		t.Fatalf("unexpected identity %q", a.Identify(push))
	}
	records, err := a.ParsePush(context.Background(), src, push)
	if err != nil || len(records) != 1 {
		t.Fatalf("ParsePush: %v %v", records, err)
	}
	if m := records[0].Message; m.From != "+15550001" || m.ContactName != "Bob" || m.MediaURL != "" {
		t.Fatalf("unexpected message %+v", m)
	}

	push.Header["X-Twilio-Signature"] = "bogus"
	if err := a.VerifyPush(src, push); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestCloudPBXCallbackAndCDR(t *testing.T) {
	a := NewCloudPBXAdapter(time.Second, time.Minute, time.Hour, 10)
	src := &syncdomain.Source{ID: "pbx", Provider: "cloudpbx"}

	q := url.Values{"call_id": {"c1"}, "status": {"RINGING"}, "direction": {"out"}, "caller": {"101"}, "receiver": {"+15550001"}, "event_time": {"1714557600"}}
	records, err := a.ParsePush(context.Background(), src, ingestdomain.Push{Route: RouteCallback, Query: q})
	if err != nil || len(records) != 1 || records[0].Kind != ingestdomain.RecordCallback {
		t.Fatalf("unexpected callback parse %v %v", records, err)
	}
	cb := records[0].Callback
	if cb.Direction != calldomain.DirectionOutbound || cb.Phone() != "+15550001" || cb.EventAt.Unix() != 1714557600 {
		t.Fatalf("unexpected callback %+v", cb)
	}

	body := []byte(`{"call_id":"c1","status":"ANSWER","duration":30,"start_time":"2024-05-01 10:00:00","end_time":"2024-05-01 10:00:30"}`)
	records, err = a.ParsePush(context.Background(), src, ingestdomain.Push{Route: RouteCDR, Body: body})
	if err != nil || len(records) != 1 {
		t.Fatalf("unexpected cdr parse %v %v", records, err)
	}
	call := records[0].Call
	if call.EventAt.Format(time.RFC3339) != "2024-05-01T10:00:30Z" || *call.DurationSeconds != 30 {
		t.Fatalf("unexpected call update %+v", call)
	}
	if records[0].Position != call.StartedAt.Unix() {
		t.Fatalf("expected position at start time")
	}

	if _, err := a.ParsePush(context.Background(), src, ingestdomain.Push{Route: RouteCDR, Body: []byte(`{"status":"ANSWER"}`)}); !errors.Is(err, errs.ErrMapping) {
		t.Fatalf("expected mapping error for cdr without call_id, got %v", err)
	}
}

func TestCloudPBXVerifyCallbackSignature(t *testing.T) {
	a := NewCloudPBXAdapter(time.Second, time.Minute, time.Hour, 10)
	src := &syncdomain.Source{ID: "pbx", Credentials: map[string]string{"webhook_secret": "s"}}
	q := url.Values{"call_id": {"c1"}, "status": {"BUSY"}}
	q.Set("sig", cloudpbx.Sign("s", cloudpbx.CanonicalQuery(q)))

	if err := a.VerifyPush(src, ingestdomain.Push{Route: RouteCallback, Query: q}); err != nil {
		t.Fatalf("VerifyPush: %v", err)
	}
}

func TestCloudPBXFetchNewPagesWithOverlap(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		if r.URL.Query().Get("from") != "1714557000" {
			t.Errorf("expected overlap-adjusted from, got %s", r.URL.Query().Get("from"))
		}
		if r.URL.Query().Get("sort") != "start_time" || r.URL.Query().Get("order") != "asc" {
			t.Errorf("expected ascending start order, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(`{"data":[{"call_id":"b","status":"ANSWER","start_time":1714557700},{"call_id":"a","status":"CANCEL","start_time":1714557650}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"call_id":"c","status":"BUSY","start_time":1714557800}]}`))
	}))
	defer srv.Close()

	a := NewCloudPBXAdapter(time.Second, 10*time.Minute, time.Hour, 2)
	a.now = func() time.Time { return time.Unix(1714558000, 0) }
	src := &syncdomain.Source{ID: "pbx", Provider: "cloudpbx", Credentials: map[string]string{"base_url": srv.URL}}

	batch, err := a.FetchNew(context.Background(), src, 1714557600)
	if err != nil {
		t.Fatalf("FetchNew: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %v", pages)
	}
	if len(batch.Records) != 3 || batch.Records[0].Call.CallID != "a" || batch.Records[2].Call.CallID != "c" {
		t.Fatalf("expected records sorted by start, got %+v", batch.Records)
	}
}

func TestCloudPBXFetchNewStopsAtPageCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(`{"data":[{"call_id":"a","status":"ANSWER","start_time":1714557650},{"status":"ANSWER","start_time":1714557660}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"call_id":"c","status":"ANSWER","start_time":1714557700},{"call_id":"d","status":"ANSWER","start_time":1714557710}]}`))
	}))
	defer srv.Close()

	a := NewCloudPBXAdapter(time.Second, time.Minute, time.Hour, 2)
	a.maxPages = 2
	a.now = func() time.Time { return time.Unix(1714558000, 0) }
	src := &syncdomain.Source{ID: "pbx", Provider: "cloudpbx", Credentials: map[string]string{"base_url": srv.URL}}

	batch, err := a.FetchNew(context.Background(), src, 1714557600)
	if !errors.Is(err, ErrPageLimit) || !errs.IsRetryable(err) {
		t.Fatalf("expected retryable page limit error, got %v", err)
	}
	if len(batch.Records) != 3 {
		t.Fatalf("expected the fetched records minus the one without call_id, got %d", len(batch.Records))
	}
	if batch.Cursor != 0 {
		t.Fatalf("a capped batch must not claim a cursor, got %d", batch.Cursor)
	}
}

func TestGmailFetchFailureDropsWholeHistoryRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/history"):
			_, _ = w.Write([]byte(`{"history":[
				{"id":"301","messagesAdded":[{"message":{"id":"m1","labelIds":["INBOX"]}}]},
				{"id":"302","messagesAdded":[{"message":{"id":"m2","labelIds":["INBOX"]}},{"message":{"id":"m3","labelIds":["INBOX"]}}]}
				],"historyId":"305"}`))
		case strings.HasSuffix(r.URL.Path, "/messages/m3"):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
		default:
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			_, _ = w.Write([]byte(`{"id":"` + id + `","internalDate":"1714557600000","payload":{"mimeType":"text/plain",
				"headers":[{"name":"From","value":"ana@example.com"},{"name":"Message-Id","value":"<` + id + `@example.com>"}],
				"body":{"data":"aGk="}}}`))
		}
	}))
	defer srv.Close()

	open := func(ctx context.Context, src *syncdomain.Source) (*gmail.Mailbox, error) {
		svc, err := gmailapi.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
		if err != nil {
			return nil, err
		}
		return gmail.NewMailbox(svc), nil
	}
	a := NewGmailAdapter(open, "", 10, nil)
	src := &syncdomain.Source{ID: "mail", Provider: "gmail", Identity: "support@example.com"}

	batch, err := a.FetchNew(context.Background(), src, 300)
	if err != nil {
		t.Fatalf("FetchNew: %v", err)
	}
	if batch.Cursor != 0 {
		t.Fatalf("a partial batch must not claim the history cursor, got %d", batch.Cursor)
	}
	if len(batch.Records) != 1 || batch.Records[0].Position != 301 {
		t.Fatalf("expected only the complete record 301, got %+v", batch.Records)
	}
}

func TestGmailDecodeNotification(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"support@example.com","historyId":4242}`))
	body := []byte(`{"message":{"data":"` + data + `","messageId":"1"},"subscription":"projects/p/subscriptions/s"}`)

	a := NewGmailAdapter(nil, "", 10, nil)
	src := &syncdomain.Source{ID: "mail", Provider: "gmail"}
	records, err := a.ParsePush(context.Background(), src, ingestdomain.Push{Body: body})
	if err != nil {
		t.Fatalf("ParsePush: %v", err)
	}
	if len(records) != 1 || records[0].Kind != ingestdomain.RecordSyncTrigger || records[0].Trigger.Token != 4242 {
		t.Fatalf("unexpected records %+v", records)
	}
	if a.Identify(ingestdomain.Push{Body: body}) != "support@example.com" {
		t.Fatalf("expected email address identity")
	}

	src.Credentials = map[string]string{"push_token": "t1"}
	if err := a.VerifyPush(src, ingestdomain.Push{Body: body, Query: url.Values{"token": {"t2"}}}); err == nil {
		t.Fatalf("expected token mismatch")
	}
}

func TestAttachmentURLRoundTrip(t *testing.T) {
	msgID, attID, ok := parseAttachmentURL(attachmentURL("m1", "ANGj/x+y"))
	if !ok || msgID != "m1" || attID != "ANGj/x+y" {
		t.Fatalf("unexpected round trip %q %q %v", msgID, attID, ok)
	}
}
