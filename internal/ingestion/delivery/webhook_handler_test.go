package delivery

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/provider"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/wuzapi"

	"github.com/gin-gonic/gin"
)

type recordingQueue struct {
	tasks []*ingestdomain.IngestTask
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, task *ingestdomain.IngestTask) error {
	if q.err != nil {
		return q.err
	}
	task.ID = "task-1"
	q.tasks = append(q.tasks, task)
	return nil
}

func newWebhookRouter(t *testing.T, queue Enqueuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := provider.NewRegistry([]syncdomain.Source{
		{
			ID:          "wa-main",
			Channel:     syncdomain.ChannelChat,
			Provider:    "wuzapi",
			Identity:    "instance-1",
			Credentials: map[string]string{"webhook_secret": "s3cret"},
		},
	}, provider.NewWuzapiAdapter(time.Second))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	h := NewWebhookHandler(registry, queue, "https://hub.example.com")
	r := gin.New()
	r.POST("/webhooks/wuzapi", h.Wuzapi)
	r.POST("/webhooks/twilio", h.Twilio)
	return r
}

func TestWuzapiWebhookQueuesSignedDelivery(t *testing.T) {
	queue := &recordingQueue{}
	r := newWebhookRouter(t, queue)

	body := []byte(`{"type":"Message","instanceId":"instance-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/wuzapi?source=wa-main", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wuzapi-Signature", "sha256="+wuzapi.Sign("s3cret", body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(queue.tasks) != 1 {
		t.Fatalf("expected one queued task, got %d", len(queue.tasks))
	}
	task := queue.tasks[0]
	if task.SourceID != "wa-main" || task.Provider != "wuzapi" {
		t.Fatalf("unexpected task routing: %+v", task)
	}
	if !bytes.Equal(task.Payload, body) {
		t.Fatalf("payload not preserved")
	}
	if task.Query != "source=wa-main" {
		t.Fatalf("expected query to be kept, got %q", task.Query)
	}
}

func TestWebhookWithBadSignatureIsAcknowledgedButDropped(t *testing.T) {
	queue := &recordingQueue{}
	r := newWebhookRouter(t, queue)

	body := []byte(`{"type":"Message"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/wuzapi?source=wa-main", bytes.NewReader(body))
	req.Header.Set("X-Wuzapi-Signature", "sha256=00")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(queue.tasks) != 0 {
		t.Fatalf("unsigned delivery must not be queued")
	}
}

func TestWebhookForUnknownSourceIsAcknowledged(t *testing.T) {
	queue := &recordingQueue{}
	r := newWebhookRouter(t, queue)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/wuzapi?source=nope", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || len(queue.tasks) != 0 {
		t.Fatalf("expected 200 and nothing queued, got %d and %d tasks", w.Code, len(queue.tasks))
	}
}

func TestWebhookQueueFailureStillAnswers200(t *testing.T) {
	queue := &recordingQueue{err: errors.New("db down")}
	r := newWebhookRouter(t, queue)

	body := []byte(`{"type":"Message"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/wuzapi?source=wa-main", bytes.NewReader(body))
	req.Header.Set("X-Wuzapi-Signature", wuzapi.Sign("s3cret", body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestTwilioWebhookRepliesWithEmptyTwiML(t *testing.T) {
	r := newWebhookRouter(t, &recordingQueue{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader("Body=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/xml") {
		t.Fatalf("expected TwiML content type, got %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "<Response>") {
		t.Fatalf("expected TwiML body, got %q", w.Body.String())
	}
}

func TestRequestURLPrefersPublicBase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &WebhookHandler{publicBaseURL: "https://hub.example.com"}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "http://10.0.0.5:8080/webhooks/twilio?source=sms", nil)

	if got := h.requestURL(c); got != "https://hub.example.com/webhooks/twilio?source=sms" {
		t.Fatalf("unexpected url %q", got)
	}

	h.publicBaseURL = ""
	c.Request.Header.Set("X-Forwarded-Proto", "https")
	if got := h.requestURL(c); got != "https://10.0.0.5:8080/webhooks/twilio?source=sms" {
		t.Fatalf("unexpected forwarded url %q", got)
	}
}

type fakeDeadLetters struct {
	replayed string
}

func (f *fakeDeadLetters) ListDead(ctx context.Context, limit, offset int) ([]ingestdomain.IngestTask, int64, error) {
	return []ingestdomain.IngestTask{{ID: "t1", Status: ingestdomain.TaskDead}}, 1, nil
}

func (f *fakeDeadLetters) Replay(ctx context.Context, id string) (*ingestdomain.IngestTask, error) {
	if id != "t1" {
		return nil, errs.ErrNotFound
	}
	f.replayed = id
	return &ingestdomain.IngestTask{ID: id, Status: ingestdomain.TaskPending}, nil
}

func TestDeadLetterReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dl := &fakeDeadLetters{}
	h := NewDeadLetterHandler(dl)
	r := gin.New()
	r.GET("/dead-letters", h.List)
	r.POST("/dead-letters/:id/replay", h.Replay)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dead-letters", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total":1`) {
		t.Fatalf("unexpected list response %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/dead-letters/t1/replay", nil))
	if w.Code != http.StatusOK || dl.replayed != "t1" {
		t.Fatalf("replay failed: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/dead-letters/missing/replay", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", w.Code)
	}
}
