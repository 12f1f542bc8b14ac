package notification

import (
	"context"
	"errors"
	"testing"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/provider"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/logger"
)

type recordingQueue struct {
	tasks []*ingestdomain.IngestTask
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, task *ingestdomain.IngestTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func newTestService(t *testing.T, queue Enqueuer) *Service {
	t.Helper()
	registry, err := provider.NewRegistry([]syncdomain.Source{
		{ID: "support-inbox", Channel: syncdomain.ChannelEmail, Provider: "gmail", Identity: "support@example.com"},
	}, provider.NewGmailAdapter(nil, "", 50, nil))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return &Service{registry: registry, queue: queue, log: logger.Component("pubsub-test")}
}

func TestHandleQueuesKnownMailbox(t *testing.T) {
	queue := &recordingQueue{}
	s := newTestService(t, queue)

	data := []byte(`{"emailAddress":"Support@Example.com","historyId":4242}`)
	if err := s.Handle(context.Background(), data); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(queue.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(queue.tasks))
	}
	if queue.tasks[0].SourceID != "support-inbox" || queue.tasks[0].Provider != "gmail" {
		t.Fatalf("unexpected task %+v", queue.tasks[0])
	}
}

func TestHandleDropsUnknownAndMalformed(t *testing.T) {
	queue := &recordingQueue{}
	s := newTestService(t, queue)

	if err := s.Handle(context.Background(), []byte(`{"emailAddress":"other@example.com","historyId":1}`)); err != nil {
		t.Fatalf("unknown mailbox should be dropped silently: %v", err)
	}
	if err := s.Handle(context.Background(), []byte(`not json`)); err != nil {
		t.Fatalf("malformed data should be dropped silently: %v", err)
	}
	if len(queue.tasks) != 0 {
		t.Fatalf("nothing should be queued, got %d", len(queue.tasks))
	}
}

func TestHandleReportsQueueFailure(t *testing.T) {
	s := newTestService(t, &recordingQueue{err: errors.New("db down")})

	if err := s.Handle(context.Background(), []byte(`{"emailAddress":"support@example.com","historyId":7}`)); err == nil {
		t.Fatal("expected queue failure to be returned for redelivery")
	}
}
