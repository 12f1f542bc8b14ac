package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	calldomain "commhub-backend/internal/call/domain"
	"commhub-backend/internal/call/repository"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/logger"
	"commhub-backend/pkg/realtime"
	"commhub-backend/pkg/storage"

	"github.com/rs/zerolog"
)

var (
	// ErrMissingCallID is returned for updates that cannot be tied to a call
	ErrMissingCallID = errs.Mapping(errors.New("update has no call_id"))
	// ErrAmbiguousCall is returned when the phone fallback matches zero or several calls
	ErrAmbiguousCall = errs.Mapping(errors.New("callback does not match exactly one open call"))
)

// ApplyResult reports what an update did to the stored call log
type ApplyResult struct {
	Call    *calldomain.CallLog
	Created bool
	Applied bool
}

// ReconcilerConfig controls the callback fallback
type ReconcilerConfig struct {
	PhoneFallback  bool
	FallbackWindow time.Duration
}

// Reconciler folds call observations from bulk sync, CDR pushes and callbacks into one call log per call_id
type Reconciler struct {
	callRepo  repository.CallRepository
	mirror    *storage.Mirror
	publisher realtime.Publisher
	cfg       ReconcilerConfig
	now       func() time.Time

	mu      sync.Mutex
	mappers map[string]*calldomain.StatusMapper
	log     zerolog.Logger
}

// NewReconciler creates a new call reconciler. mirror may be nil.
func NewReconciler(callRepo repository.CallRepository, mirror *storage.Mirror, publisher realtime.Publisher, cfg ReconcilerConfig) *Reconciler {
	if publisher == nil {
		publisher = realtime.Nop{}
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = 2 * time.Hour
	}
	return &Reconciler{
		callRepo:  callRepo,
		mirror:    mirror,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		mappers:   make(map[string]*calldomain.StatusMapper),
		log:       logger.Component("reconciler"),
	}
}

func (r *Reconciler) mapperFor(src *syncdomain.Source) *calldomain.StatusMapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mappers[src.ID]; ok {
		return m
	}
	m := calldomain.NewStatusMapper(src.StatusMap)
	r.mappers[src.ID] = m
	return m
}

// Apply maps the provider status, mirrors the recording once and upserts the call
func (r *Reconciler) Apply(ctx context.Context, src *syncdomain.Source, u calldomain.CallUpdate) (*ApplyResult, error) {
	if u.CallID == "" {
		return nil, ErrMissingCallID
	}
	u.SourceID = src.ID
	if u.Provider == "" {
		u.Provider = src.Provider
	}
	if u.EventAt.IsZero() {
		u.EventAt = calldomain.ObservedAt(u.EndedAt, u.StartedAt)
	}

	status, known := r.mapperFor(src).Map(u.ProviderStatus)
	if !known {
		r.log.Warn().
			Err(errs.Mapping(fmt.Errorf("unknown call status %q", u.ProviderStatus))).
			Str("call_id", u.CallID).
			Str("source_id", src.ID).
			Msg("Mapped unknown provider status to waiting")
	}
	u.Status = status

	if u.RecordingURL != "" && u.RecordingRef == nil {
		u.RecordingRef = r.recordingRef(ctx, src, u)
	}

	res, err := r.callRepo.Upsert(ctx, u)
	if err != nil {
		return nil, err
	}
	call, err := r.callRepo.Get(ctx, u.CallID)
	if err != nil {
		return nil, errs.Persistence(err)
	}

	if res.Created || res.Applied {
		eventType := "call.updated"
		if res.Created {
			eventType = "call.created"
		}
		realtime.PublishBestEffort(ctx, r.publisher, realtime.CallsTopic, realtime.Event{Type: eventType, Data: call})
	}
	return &ApplyResult{Call: call, Created: res.Created, Applied: res.Applied}, nil
}

// recordingRef returns nil when the stored row already has a recording or the copy failed,
// so a later sync retries the mirror
func (r *Reconciler) recordingRef(ctx context.Context, src *syncdomain.Source, u calldomain.CallUpdate) *string {
	if existing, err := r.callRepo.Get(ctx, u.CallID); err == nil && existing.RecordingRef != nil {
		return nil
	}
	if !r.mirror.Enabled() {
		ref := u.RecordingURL
		return &ref
	}
	ref, err := r.mirror.Copy(ctx, u.RecordingURL, "recordings/"+src.ID, "")
	if err != nil {
		r.log.Warn().Err(err).Str("call_id", u.CallID).Msg("Recording mirror failed, will retry on next sync")
		return nil
	}
	return &ref
}

// ApplyCallback applies a mid-call leg status. Without a call_id it falls back to the caller's
// phone and direction only when enabled and exactly one open call matches.
func (r *Reconciler) ApplyCallback(ctx context.Context, src *syncdomain.Source, u calldomain.CallUpdate) (*ApplyResult, error) {
	if u.CallID == "" {
		if !r.cfg.PhoneFallback {
			return nil, ErrMissingCallID
		}
		phone := u.Phone()
		if phone == "" || u.Direction == "" {
			return nil, ErrMissingCallID
		}
		candidates, err := r.callRepo.FindOpenByParty(ctx, phone, u.Direction, r.now().Add(-r.cfg.FallbackWindow))
		if err != nil {
			return nil, errs.Persistence(err)
		}
		if len(candidates) != 1 {
			r.log.Warn().Str("phone", phone).Int("candidates", len(candidates)).Msg("Callback without call_id not applied")
			return nil, ErrAmbiguousCall
		}
		u.CallID = candidates[0].CallID
	}
	return r.Apply(ctx, src, u)
}

// List and Get back the call log endpoints
func (r *Reconciler) List(ctx context.Context, filter repository.CallFilter) ([]calldomain.CallLog, int64, error) {
	return r.callRepo.List(ctx, filter)
}

func (r *Reconciler) Get(ctx context.Context, callID string) (*calldomain.CallLog, error) {
	return r.callRepo.Get(ctx, callID)
}
