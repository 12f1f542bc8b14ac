package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	callusecase "commhub-backend/internal/call/usecase"
	conversationdomain "commhub-backend/internal/conversation/domain"
	"commhub-backend/internal/conversation/repository"
	convusecase "commhub-backend/internal/conversation/usecase"
	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/provider"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/logger"
	"commhub-backend/pkg/realtime"
	"commhub-backend/pkg/storage"

	"github.com/rs/zerolog"
)

// Outcome is what processing one record did
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUpdated   Outcome = "updated"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSynced    Outcome = "synced"
)

// ErrMissingMessageID is returned for messages that carry neither an explicit nor a legacy id
var ErrMissingMessageID = errs.Mapping(errors.New("message has no identifier"))

// ErrSyncInProgress is returned by a SourceSyncer when another worker is already syncing the source
var ErrSyncInProgress = errs.Transient(errors.New("sync already in progress"))

// SourceSyncer runs one pull-based sync of a source, used for mailbox push triggers
type SourceSyncer interface {
	SyncSource(ctx context.Context, src *syncdomain.Source) error
}

// ClassificationQueue accepts classification work for created or reopened conversations
type ClassificationQueue interface {
	Submit(job convusecase.ClassificationJob) bool
}

// EngineConfig holds the engine's policies
type EngineConfig struct {
	ArchivedPolicy conversationdomain.ArchivedPolicy
}

// Engine turns canonical records into conversations, messages and call logs
type Engine struct {
	convRepo   repository.ConversationRepository
	deduper    *Deduper
	reconciler *callusecase.Reconciler
	registry   *provider.Registry
	mirror     *storage.Mirror
	classify   ClassificationQueue
	publisher  realtime.Publisher
	syncer     SourceSyncer
	cfg        EngineConfig
	now        func() time.Time
	log        zerolog.Logger
}

// NewEngine creates the ingestion engine. mirror and classify may be nil.
func NewEngine(
	convRepo repository.ConversationRepository,
	deduper *Deduper,
	reconciler *callusecase.Reconciler,
	registry *provider.Registry,
	mirror *storage.Mirror,
	classify ClassificationQueue,
	publisher realtime.Publisher,
	cfg EngineConfig,
) *Engine {
	if publisher == nil {
		publisher = realtime.Nop{}
	}
	if cfg.ArchivedPolicy == "" {
		cfg.ArchivedPolicy = conversationdomain.ArchivedKeep
	}
	return &Engine{
		convRepo:   convRepo,
		deduper:    deduper,
		reconciler: reconciler,
		registry:   registry,
		mirror:     mirror,
		classify:   classify,
		publisher:  publisher,
		cfg:        cfg,
		now:        time.Now,
		log:        logger.Component("engine"),
	}
}

// SetSyncer wires the poller in after construction, since the poller itself depends on the engine
func (e *Engine) SetSyncer(s SourceSyncer) {
	e.syncer = s
}

// Process ingests one record for a source. Redelivering the same record is a no-op.
func (e *Engine) Process(ctx context.Context, src *syncdomain.Source, rec ingestdomain.Record) (Outcome, error) {
	switch rec.Kind {
	case ingestdomain.RecordMessage:
		if rec.Message == nil {
			return OutcomeIgnored, nil
		}
		return e.processMessage(ctx, src, rec.Message)
	case ingestdomain.RecordCall:
		if rec.Call == nil {
			return OutcomeIgnored, nil
		}
		res, err := e.reconciler.Apply(ctx, src, *rec.Call)
		return callOutcome(res, err)
	case ingestdomain.RecordCallback:
		if rec.Callback == nil {
			return OutcomeIgnored, nil
		}
		res, err := e.reconciler.ApplyCallback(ctx, src, rec.Callback.CallUpdate)
		return callOutcome(res, err)
	case ingestdomain.RecordSyncTrigger:
		if e.syncer == nil {
			return "", fmt.Errorf("sync trigger for %s: no syncer configured", src.ID)
		}
		err := e.syncer.SyncSource(ctx, src)
		if errors.Is(err, ErrSyncInProgress) {
			// the running sync or the next poll picks the change up
			return OutcomeIgnored, nil
		}
		if err != nil {
			return "", err
		}
		return OutcomeSynced, nil
	default:
		return "", errs.Mapping(fmt.Errorf("unknown record kind %q", rec.Kind))
	}
}

func callOutcome(res *callusecase.ApplyResult, err error) (Outcome, error) {
	switch {
	case err != nil:
		return "", err
	case res.Created:
		return OutcomeCreated, nil
	case res.Applied:
		return OutcomeUpdated, nil
	default:
		return OutcomeDuplicate, nil
	}
}

func (e *Engine) processMessage(ctx context.Context, src *syncdomain.Source, m *ingestdomain.InboundMessage) (Outcome, error) {
	primary, alt := m.DedupKey()
	if primary == "" {
		return "", ErrMissingMessageID
	}
	if m.From == "" {
		return "", errs.Mapping(fmt.Errorf("message %s has no sender", primary))
	}

	dup, err := e.deduper.IsDuplicate(ctx, src.Channel, primary, alt)
	if err != nil {
		return "", errs.Persistence(err)
	}
	if dup {
		return OutcomeDuplicate, nil
	}

	msg := &conversationdomain.Message{
		DedupKey: primary,
		AltKey:   alt,
		SourceID: src.ID,
		Provider: src.Provider,
		Content:  messageContent(src.Channel, m),
		MediaRef: e.storeMedia(ctx, src, m),
	}
	if !m.SentAt.IsZero() {
		sentAt := m.SentAt.UTC()
		msg.ExternalAt = &sentAt
	}

	res, err := e.convRepo.ApplyInbound(ctx, repository.InboundWrite{
		Channel:         src.Channel,
		SourceID:        src.ID,
		ChannelIdentity: m.From,
		ContactName:     m.ContactName,
		Message:         msg,
		ReceivedAt:      e.now(),
	}, e.cfg.ArchivedPolicy)
	if errors.Is(err, errs.ErrDuplicateRecord) {
		e.deduper.Remember(src.Channel, primary, alt)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	e.deduper.Remember(src.Channel, primary, alt)

	conv := res.Conversation
	data := map[string]interface{}{"conversation_id": conv.ID, "message": res.Message}
	realtime.PublishBestEffort(ctx, e.publisher, realtime.ConversationTopic(conv.ID), realtime.Event{Type: "message.created", Data: data})
	realtime.PublishBestEffort(ctx, e.publisher, realtime.SourceTopic(src.ID), realtime.Event{Type: "message.created", Data: data})
	switch {
	case res.Transition.Created:
		realtime.PublishBestEffort(ctx, e.publisher, realtime.SourceTopic(src.ID), realtime.Event{Type: "conversation.opened", Data: conv})
	case res.Transition.Reopened:
		realtime.PublishBestEffort(ctx, e.publisher, realtime.SourceTopic(src.ID), realtime.Event{Type: "conversation.reopened", Data: conv})
	}

	if res.Transition.Classify() && e.classify != nil {
		queued := e.classify.Submit(convusecase.ClassificationJob{
			ConversationID: conv.ID,
			SourceID:       src.ID,
			Text:           m.ClassificationText(),
		})
		if !queued {
			e.log.Warn().Str("conversation_id", conv.ID).Msg("Classification not queued")
		}
	}

	e.log.Debug().
		Str("source_id", src.ID).
		Str("conversation_id", conv.ID).
		Str("dedup_key", primary).
		Str("status", string(conv.Status)).
		Msg("Inbound message stored")
	return OutcomeCreated, nil
}

func messageContent(channel syncdomain.Channel, m *ingestdomain.InboundMessage) string {
	if channel == syncdomain.ChannelEmail && m.Subject != "" {
		return m.Subject + "\n\n" + m.Text
	}
	if m.Text == "" && m.MediaKind != "" {
		return "[" + m.MediaKind + "]"
	}
	return m.Text
}

// storeMedia copies the attachment to the object store. Failures are logged and leave the ref unset.
func (e *Engine) storeMedia(ctx context.Context, src *syncdomain.Source, m *ingestdomain.InboundMessage) *string {
	prefix := string(src.Channel) + "/" + src.ID

	var ref string
	var err error
	switch {
	case len(m.MediaData) > 0:
		ref, err = e.mirror.Save(ctx, m.MediaName, prefix, m.MediaMimeType, m.MediaData)
	case m.MediaURL != "":
		var adapter provider.Adapter
		if e.registry != nil {
			adapter, _ = e.registry.Adapter(src.Provider)
		}
		if mm, ok := adapter.(provider.MediaMirrorer); ok {
			ref, err = mm.MirrorMedia(ctx, src, m.MediaURL, m.MediaMimeType)
		} else {
			ref, err = e.mirror.Copy(ctx, m.MediaURL, prefix, m.MediaMimeType)
		}
	default:
		return nil
	}
	if err != nil {
		e.log.Warn().Err(err).Str("source_id", src.ID).Msg("Media mirror failed, storing message without media")
		return nil
	}
	if ref == "" {
		return nil
	}
	return &ref
}
