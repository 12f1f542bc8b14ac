// Package scheduler runs the periodic mailbox polls, call-log syncs and push subscription renewals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/ingestion/usecase"
	"commhub-backend/internal/provider"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/internal/sync/repository"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/logger"
	"commhub-backend/pkg/realtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrSyncInProgress is returned when another worker holds the source's lock
var ErrSyncInProgress = usecase.ErrSyncInProgress

// PollerConfig holds the scheduler intervals and limits
type PollerConfig struct {
	MailInterval    time.Duration
	CallInterval    time.Duration
	RenewInterval   time.Duration
	RenewLookahead  time.Duration
	ProviderTimeout time.Duration
	Concurrency     int
	LockTTL         time.Duration
}

// SyncReport summarizes one source sync
type SyncReport struct {
	SourceID string
	Fetched  int
	Created  int
	Failed   int
	From     int64
	To       int64
}

// Poller pulls new records from every active pull-based source and advances their cursors
type Poller struct {
	registry   *provider.Registry
	cursorRepo repository.CursorRepository
	subRepo    repository.SubscriptionRepository
	engine     *usecase.Engine
	publisher  realtime.Publisher
	locker     Locker
	cfg        PollerConfig
	now        func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewPoller creates the poller. locker may be nil for a single instance deployment.
func NewPoller(
	registry *provider.Registry,
	cursorRepo repository.CursorRepository,
	subRepo repository.SubscriptionRepository,
	engine *usecase.Engine,
	publisher realtime.Publisher,
	locker Locker,
	cfg PollerConfig,
) *Poller {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if publisher == nil {
		publisher = realtime.Nop{}
	}
	if cfg.MailInterval <= 0 {
		cfg.MailInterval = time.Minute
	}
	if cfg.CallInterval <= 0 {
		cfg.CallInterval = 15 * time.Minute
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = time.Hour
	}
	if cfg.RenewLookahead <= 0 {
		cfg.RenewLookahead = 24 * time.Hour
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 20 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Poller{
		registry:   registry,
		cursorRepo: cursorRepo,
		subRepo:    subRepo,
		engine:     engine,
		publisher:  publisher,
		locker:     locker,
		cfg:        cfg,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		log:        logger.Component("poller"),
	}
}

// Start begins the mailbox, call-log and renewal loops
func (p *Poller) Start() {
	p.log.Info().
		Dur("mail_interval", p.cfg.MailInterval).
		Dur("call_interval", p.cfg.CallInterval).
		Dur("renew_interval", p.cfg.RenewInterval).
		Msg("Starting poller")

	p.loop("mail", p.cfg.MailInterval, func(ctx context.Context) { p.Tick(ctx, syncdomain.ChannelEmail) })
	p.loop("calls", p.cfg.CallInterval, func(ctx context.Context) { p.Tick(ctx, syncdomain.ChannelVoice) })
	p.loop("renew", p.cfg.RenewInterval, func(ctx context.Context) { p.RenewDue(ctx) })
}

// Stop stops the loops and waits for running ticks
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
	p.log.Info().Msg("Poller stopped")
}

func (p *Poller) loop(name string, interval time.Duration, run func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-p.stopChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		// Run immediately on start
		run(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run(ctx)
			case <-p.stopChan:
				p.log.Debug().Str("loop", name).Msg("Loop stopped")
				return
			}
		}
	}()
}

// Tick syncs every active source of the given channels with bounded parallelism.
// A failing source never cancels the others.
func (p *Poller) Tick(ctx context.Context, channels ...syncdomain.Channel) []SyncReport {
	sources := p.registry.Active(channels...)
	reports := make([]SyncReport, len(sources))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			report, err := p.sync(ctx, src)
			reports[i] = report
			if err != nil && !errors.Is(err, ErrSyncInProgress) {
				p.log.Warn().Err(err).Str("source_id", src.ID).Msg("Source sync failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// SyncSource runs one sync of a pull-based source. It backs mailbox push triggers.
func (p *Poller) SyncSource(ctx context.Context, src *syncdomain.Source) error {
	_, err := p.sync(ctx, src)
	return err
}

func (p *Poller) sync(ctx context.Context, src *syncdomain.Source) (SyncReport, error) {
	report := SyncReport{SourceID: src.ID}
	adapter, ok := p.registry.Adapter(src.Provider)
	if !ok {
		return report, fmt.Errorf("no adapter for provider %q", src.Provider)
	}
	kind := adapter.CursorKind()

	release, locked, err := p.locker.TryLock(ctx, "sync:"+src.ID, p.cfg.LockTTL)
	if err != nil {
		return report, errs.Transient(fmt.Errorf("acquire sync lock: %w", err))
	}
	if !locked {
		return report, ErrSyncInProgress
	}
	defer release()

	cursor, err := p.cursorRepo.FetchSince(ctx, src.ID, kind)
	if err != nil {
		return report, errs.Persistence(err)
	}
	report.From, report.To = cursor.Value, cursor.Value

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	batch, fetchErr := adapter.FetchNew(fetchCtx, src, cursor.Value)
	cancel()
	fetchErr = errs.Classify(fetchErr)
	if errors.Is(fetchErr, errs.ErrNotSupported) {
		return report, nil
	}
	if fetchErr != nil && len(batch.Records) == 0 {
		p.finish(ctx, src, kind, fetchErr)
		return report, fetchErr
	}

	records := batch.Records
	sort.SliceStable(records, func(i, j int) bool { return records[i].Position < records[j].Position })
	report.Fetched = len(records)

	high, processErr := p.process(ctx, src, records, cursor.Value, &report)
	if processErr == nil && fetchErr == nil && batch.Cursor > high {
		high = batch.Cursor
	}
	if high > cursor.Value {
		if _, err := p.cursorRepo.Advance(ctx, src.ID, kind, high); err != nil {
			return report, errs.Persistence(err)
		}
		report.To = high
	}

	syncErr := fetchErr
	if syncErr == nil {
		syncErr = processErr
	}
	p.finish(ctx, src, kind, syncErr)

	if report.Created > 0 {
		realtime.PublishBestEffort(ctx, p.publisher, realtime.SourceTopic(src.ID), realtime.Event{Type: "source.synced", Data: report})
	}
	p.log.Debug().
		Str("source_id", src.ID).
		Int("fetched", report.Fetched).
		Int("created", report.Created).
		Int64("cursor", report.To).
		Msg("Source synced")
	return report, syncErr
}

// process feeds records to the engine and returns the highest position of the
// contiguous prefix that was processed cleanly. Records sharing a position succeed
// or hold together. Records that can never succeed are skipped rather than
// holding the cursor forever.
func (p *Poller) process(ctx context.Context, src *syncdomain.Source, records []ingestdomain.Record, start int64, report *SyncReport) (int64, error) {
	high, below := start, start
	var firstErr error
	for _, rec := range records {
		outcome, err := p.engine.Process(ctx, src, rec)
		switch {
		case err != nil && errs.IsRetryable(err):
			report.Failed++
			if firstErr == nil {
				firstErr = err
				if high == rec.Position {
					high = below
				}
			}
			p.log.Warn().Err(err).Str("source_id", src.ID).Int64("position", rec.Position).Msg("Record failed, cursor held")
			continue
		case err != nil:
			p.log.Warn().Err(err).Str("source_id", src.ID).Int64("position", rec.Position).Msg("Record skipped")
		case outcome == usecase.OutcomeCreated:
			report.Created++
		}
		if firstErr == nil && rec.Position > high {
			below, high = high, rec.Position
		}
	}
	return high, firstErr
}

func (p *Poller) finish(ctx context.Context, src *syncdomain.Source, kind syncdomain.CursorKind, syncErr error) {
	if err := p.cursorRepo.RecordAttempt(ctx, src.ID, kind, syncErr); err != nil {
		p.log.Error().Err(err).Str("source_id", src.ID).Msg("Failed to record sync attempt")
	}
	if errors.Is(syncErr, errs.ErrAuth) {
		p.alertAuth(ctx, src, syncErr)
	}
}

func (p *Poller) alertAuth(ctx context.Context, src *syncdomain.Source, cause error) {
	p.log.Error().Err(cause).Str("source_id", src.ID).Msg("Source credentials rejected")
	realtime.PublishBestEffort(ctx, p.publisher, realtime.OpsTopic, realtime.Event{
		Type: "source.auth_failed",
		Data: map[string]interface{}{
			"source_id": src.ID,
			"provider":  src.Provider,
			"error":     cause.Error(),
		},
	})
}

// RenewDue renews push subscriptions that expire within the look-ahead window
func (p *Poller) RenewDue(ctx context.Context) int {
	renewed := 0
	now := p.now()
	for _, src := range p.registry.Active() {
		adapter, _ := p.registry.Adapter(src.Provider)
		renewer, ok := adapter.(provider.Renewer)
		if !ok {
			continue
		}

		current, err := p.subRepo.Get(ctx, src.ID)
		if err != nil {
			p.log.Error().Err(err).Str("source_id", src.ID).Msg("Failed to load subscription")
			continue
		}
		if current != nil && !current.ExpiresWithin(now, p.cfg.RenewLookahead) {
			continue
		}

		renewCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		sub, err := renewer.Renew(renewCtx, src)
		cancel()
		if errors.Is(err, errs.ErrNotSupported) {
			continue
		}
		if err != nil {
			err = errs.Classify(err)
			p.log.Warn().Err(err).Str("source_id", src.ID).Msg("Subscription renewal failed")
			if errors.Is(err, errs.ErrAuth) {
				p.alertAuth(ctx, src, err)
			}
			continue
		}

		record := &syncdomain.PushSubscription{
			SourceID:  src.ID,
			Provider:  src.Provider,
			ExpiresAt: sub.ExpiresAt.UTC(),
			HistoryID: sub.HistoryID,
			RenewedAt: now.UTC(),
		}
		if err := p.subRepo.Save(ctx, record); err != nil {
			p.log.Error().Err(err).Str("source_id", src.ID).Msg("Failed to store subscription")
			continue
		}
		renewed++
		p.log.Info().Str("source_id", src.ID).Time("expires_at", record.ExpiresAt).Msg("Push subscription renewed")
	}
	return renewed
}
