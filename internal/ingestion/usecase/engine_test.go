package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	calldomain "commhub-backend/internal/call/domain"
	callrepo "commhub-backend/internal/call/repository"
	callusecase "commhub-backend/internal/call/usecase"
	conversationdomain "commhub-backend/internal/conversation/domain"
	"commhub-backend/internal/conversation/repository"
	convusecase "commhub-backend/internal/conversation/usecase"
	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/provider"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/internal/testutil"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/storage"

	"gorm.io/gorm"
)

var (
	chatSource  = &syncdomain.Source{ID: "wa-main", Channel: syncdomain.ChannelChat, Provider: "wuzapi"}
	mailSource  = &syncdomain.Source{ID: "support-mail", Channel: syncdomain.ChannelEmail, Provider: "imap"}
	voiceSource = &syncdomain.Source{ID: "pbx", Channel: syncdomain.ChannelVoice, Provider: "cloudpbx"}
)

type jobRecorder struct {
	mu   sync.Mutex
	jobs []convusecase.ClassificationJob
}

func (r *jobRecorder) Submit(job convusecase.ClassificationJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return true
}

func (r *jobRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type syncRecorder struct {
	calls []string
	err   error
}

func (s *syncRecorder) SyncSource(_ context.Context, src *syncdomain.Source) error {
	s.calls = append(s.calls, src.ID)
	return s.err
}

type engineFixture struct {
	db       *gorm.DB
	engine   *Engine
	convRepo repository.ConversationRepository
	callRepo callrepo.CallRepository
	jobs     *jobRecorder
	pub      *testutil.Publisher
}

func newEngine(t *testing.T, policy conversationdomain.ArchivedPolicy, mirror *storage.Mirror) *engineFixture {
	t.Helper()
	db := testutil.DB(t)
	convRepo := repository.NewConversationRepository(db)
	callRepo := callrepo.NewCallRepository(db)
	pub := &testutil.Publisher{}
	jobs := &jobRecorder{}
	reconciler := callusecase.NewReconciler(callRepo, nil, pub, callusecase.ReconcilerConfig{})
	engine := NewEngine(convRepo, NewDeduper(convRepo, time.Minute), reconciler, nil, mirror, jobs, pub,
		EngineConfig{ArchivedPolicy: policy})
	return &engineFixture{db: db, engine: engine, convRepo: convRepo, callRepo: callRepo, jobs: jobs, pub: pub}
}

func chatRecord(id, from, text string) ingestdomain.Record {
	return ingestdomain.Record{
		Kind: ingestdomain.RecordMessage,
		Message: &ingestdomain.InboundMessage{
			Channel:     syncdomain.ChannelChat,
			ExternalID:  id,
			From:        from,
			ContactName: "Ana",
			Text:        text,
			SentAt:      time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)
	rec := chatRecord("wamid-1", "+15550001", "hello")

	created := 0
	for i := 0; i < 5; i++ {
		outcome, err := f.engine.Process(ctx, chatSource, rec)
		if err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
		if outcome == OutcomeCreated {
			created++
		} else if outcome != OutcomeDuplicate {
			t.Fatalf("unexpected outcome %s", outcome)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one create, got %d", created)
	}

	convs, total, err := f.convRepo.List(ctx, repository.ConversationFilter{})
	if err != nil || total != 1 {
		t.Fatalf("expected one conversation, got %d err=%v", total, err)
	}
	if convs[0].UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", convs[0].UnreadCount)
	}
	if f.jobs.count() != 1 {
		t.Fatalf("expected one classification, got %d", f.jobs.count())
	}
	if f.pub.Count("message.created") != 2 {
		t.Fatalf("expected one message.created per topic, got %d", f.pub.Count("message.created"))
	}
}

func TestLegacyIDDeduplicatesAgainstExplicitID(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)

	first := chatRecord("wamid-7", "+15550001", "hi")
	first.Message.LegacyID = "LEGACY7"
	if _, err := f.engine.Process(ctx, chatSource, first); err != nil {
		t.Fatalf("Process: %v", err)
	}

	legacyOnly := chatRecord("", "+15550001", "hi")
	legacyOnly.Message.LegacyID = "LEGACY7"
	outcome, err := f.engine.Process(ctx, chatSource, legacyOnly)
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("expected legacy redelivery to dedup, got %s %v", outcome, err)
	}
}

func TestReopenClassifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)

	if _, err := f.engine.Process(ctx, chatSource, chatRecord("m-1", "+15550001", "first")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	convs, _, _ := f.convRepo.List(ctx, repository.ConversationFilter{})
	if _, err := f.convRepo.SetStatus(ctx, convs[0].ID, conversationdomain.StatusResolved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if _, err := f.engine.Process(ctx, chatSource, chatRecord("m-2", "+15550001", "it broke again")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := f.engine.Process(ctx, chatSource, chatRecord("m-3", "+15550001", "still there?")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if f.jobs.count() != 2 {
		t.Fatalf("expected classification on create and reopen only, got %d", f.jobs.count())
	}
	if f.jobs.jobs[1].Text != "it broke again" {
		t.Fatalf("expected reopen to classify the triggering message, got %q", f.jobs.jobs[1].Text)
	}
	conv, _ := f.convRepo.Get(ctx, convs[0].ID)
	if conv.Status != conversationdomain.StatusOpen || conv.ReopenedCount != 1 || conv.UnreadCount != 3 {
		t.Fatalf("unexpected conversation after reopen %+v", conv)
	}
	if f.pub.Count("conversation.reopened") != 1 {
		t.Fatalf("expected one reopened event")
	}
}

func TestArchivedStaysArchivedByDefault(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)

	if _, err := f.engine.Process(ctx, chatSource, chatRecord("m-1", "+15550001", "first")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	convs, _, _ := f.convRepo.List(ctx, repository.ConversationFilter{})
	if _, err := f.convRepo.SetStatus(ctx, convs[0].ID, conversationdomain.StatusArchived); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := f.engine.Process(ctx, chatSource, chatRecord("m-2", "+15550001", "hello?")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	conv, _ := f.convRepo.Get(ctx, convs[0].ID)
	if conv.Status != conversationdomain.StatusArchived || conv.UnreadCount != 2 {
		t.Fatalf("expected archived with unread bumped, got %+v", conv)
	}
	if f.jobs.count() != 1 {
		t.Fatalf("expected no classification for archived inbound, got %d", f.jobs.count())
	}
}

func TestEmailContentAndClassificationText(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)

	rec := ingestdomain.Record{
		Kind: ingestdomain.RecordMessage,
		Message: &ingestdomain.InboundMessage{
			Channel:    syncdomain.ChannelEmail,
			ExternalID: "<abc@mail.example>",
			LegacyID:   "imap:support-mail:101",
			From:       "ana@example.com",
			Subject:    "Invoice 42",
			Text:       "Please resend it.",
		},
	}
	if _, err := f.engine.Process(ctx, mailSource, rec); err != nil {
		t.Fatalf("Process: %v", err)
	}

	convs, _, _ := f.convRepo.List(ctx, repository.ConversationFilter{Channel: "email"})
	msgs, _ := f.convRepo.ListMessages(ctx, convs[0].ID, 0, 0)
	if msgs[0].Content != "Invoice 42\n\nPlease resend it." {
		t.Fatalf("unexpected email content %q", msgs[0].Content)
	}
	if msgs[0].AltKey != "imap:support-mail:101" {
		t.Fatalf("expected legacy id kept as alt key, got %q", msgs[0].AltKey)
	}
	if f.jobs.jobs[0].Text != "Subject: Invoice 42\n\nPlease resend it." {
		t.Fatalf("unexpected classification text %q", f.jobs.jobs[0].Text)
	}
}

func TestMediaMirrorFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	failing := storage.NewMirror(failingStore{}, time.Second)
	f := newEngine(t, conversationdomain.ArchivedKeep, failing)

	rec := chatRecord("m-media", "+15550001", "")
	rec.Message.MediaData = []byte("%PDF-1.4")
	rec.Message.MediaName = "invoice.pdf"
	rec.Message.MediaMimeType = "application/pdf"
	rec.Message.MediaKind = "document"

	outcome, err := f.engine.Process(ctx, chatSource, rec)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("expected message stored despite media failure, got %s %v", outcome, err)
	}
	convs, _, _ := f.convRepo.List(ctx, repository.ConversationFilter{})
	msgs, _ := f.convRepo.ListMessages(ctx, convs[0].ID, 0, 0)
	if msgs[0].MediaRef != nil {
		t.Fatalf("expected media ref unset, got %v", *msgs[0].MediaRef)
	}
	if msgs[0].Content != "[document]" {
		t.Fatalf("expected media placeholder content, got %q", msgs[0].Content)
	}
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestSkippedAndInvalidMessages(t *testing.T) {
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)

	outcome, err := f.engine.Process(context.Background(), mailSource, ingestdomain.Record{Kind: ingestdomain.RecordMessage, Position: 7})
	if err != nil || outcome != OutcomeIgnored {
		t.Fatalf("expected own message to be ignored, got %s %v", outcome, err)
	}
	_, err = f.engine.Process(context.Background(), chatSource, chatRecord("", "+15550001", "no id"))
	if !errors.Is(err, ErrMissingMessageID) || errs.IsRetryable(err) {
		t.Fatalf("expected non-retryable missing id error, got %v", err)
	}
}

func TestCallRecordOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)
	t0 := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	call := func(status string, at time.Time) ingestdomain.Record {
		return ingestdomain.Record{Kind: ingestdomain.RecordCall, Call: &calldomain.CallUpdate{
			CallID: "call-1", Direction: calldomain.DirectionInbound, Caller: "+15550001",
			ProviderStatus: status, EventAt: at,
		}}
	}

	steps := []struct {
		rec  ingestdomain.Record
		want Outcome
	}{
		{call("RINGING", t0), OutcomeCreated},
		{call("ANSWER", t0.Add(time.Minute)), OutcomeUpdated},
		{call("RINGING", t0), OutcomeDuplicate},
	}
	for i, s := range steps {
		got, err := f.engine.Process(ctx, voiceSource, s.rec)
		if err != nil || got != s.want {
			t.Fatalf("step %d: expected %s, got %s %v", i, s.want, got, err)
		}
	}
	stored, _ := f.callRepo.Get(ctx, "call-1")
	if stored.Status != calldomain.StatusCompleted || stored.SourceID != "pbx" {
		t.Fatalf("unexpected call row %+v", stored)
	}

	cb := ingestdomain.Record{Kind: ingestdomain.RecordCallback, Callback: &ingestdomain.CallbackUpdate{
		CallUpdate: calldomain.CallUpdate{Caller: "+15550001", Direction: calldomain.DirectionInbound, ProviderStatus: "HANGUP"},
	}}
	if _, err := f.engine.Process(ctx, voiceSource, cb); !errors.Is(err, callusecase.ErrMissingCallID) {
		t.Fatalf("expected callback without call_id to be rejected, got %v", err)
	}
}

func TestCDRRedeliveryKeepsAnsweredCall(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)
	adapter := provider.NewCloudPBXAdapter(time.Second, time.Minute, time.Hour, 10)
	now := time.Now().UTC()

	cancel := `{"call_id":"x1","status":"CANCEL"}`
	answer := fmt.Sprintf(`{"call_id":"x1","status":"ANSWER","caller":"+15550001","start_time":%d,"end_time":%d}`,
		now.Add(-10*time.Minute).Unix(), now.Add(-8*time.Minute).Unix())

	steps := []struct {
		body string
		want Outcome
	}{
		{cancel, OutcomeCreated},
		{answer, OutcomeUpdated},
		{cancel, OutcomeDuplicate},
	}
	for i, s := range steps {
		records, err := adapter.ParsePush(ctx, voiceSource, ingestdomain.Push{Route: provider.RouteCDR, Body: []byte(s.body)})
		if err != nil || len(records) != 1 {
			t.Fatalf("step %d: ParsePush: %v %v", i, records, err)
		}
		got, err := f.engine.Process(ctx, voiceSource, records[0])
		if err != nil || got != s.want {
			t.Fatalf("step %d: expected %s, got %s %v", i, s.want, got, err)
		}
	}

	stored, err := f.callRepo.Get(ctx, "x1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != calldomain.StatusCompleted || stored.ProviderStatus != "ANSWER" {
		t.Fatalf("expected completed/ANSWER, got %s/%s", stored.Status, stored.ProviderStatus)
	}
}

func TestSyncTriggerRunsSourceSync(t *testing.T) {
	f := newEngine(t, conversationdomain.ArchivedKeep, nil)
	trigger := ingestdomain.Record{Kind: ingestdomain.RecordSyncTrigger, Trigger: &ingestdomain.SyncTrigger{Token: 900}}

	if _, err := f.engine.Process(context.Background(), mailSource, trigger); err == nil {
		t.Fatalf("expected error without a syncer")
	}

	syncer := &syncRecorder{}
	f.engine.SetSyncer(syncer)
	outcome, err := f.engine.Process(context.Background(), mailSource, trigger)
	if err != nil || outcome != OutcomeSynced {
		t.Fatalf("expected synced, got %s %v", outcome, err)
	}
	if len(syncer.calls) != 1 || syncer.calls[0] != "support-mail" {
		t.Fatalf("unexpected sync calls %v", syncer.calls)
	}

	// a trigger arriving while the source is already syncing is done, not retried
	syncer.err = ErrSyncInProgress
	outcome, err = f.engine.Process(context.Background(), mailSource, trigger)
	if err != nil || outcome != OutcomeIgnored {
		t.Fatalf("expected ignored without error, got %s %v", outcome, err)
	}
}
