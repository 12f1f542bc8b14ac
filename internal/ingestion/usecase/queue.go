package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/ingestion/repository"
	"commhub-backend/internal/provider"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/logger"

	"github.com/rs/zerolog"
)

const maxRetryDelay = time.Hour

// QueueConfig controls the webhook work queue
type QueueConfig struct {
	Workers       int
	MaxAttempts   int
	RetryBase     time.Duration
	SweepInterval time.Duration
	// Lease is how long a claimed task stays invisible to other workers
	Lease time.Duration
	// Retention is how long completed tasks are kept before purging
	Retention time.Duration
}

// Queue processes stored webhook deliveries with retries and a dead-letter state
type Queue struct {
	taskRepo repository.TaskRepository
	registry *provider.Registry
	engine   *Engine
	cfg      QueueConfig

	jobQueue chan ingestdomain.IngestTask
	wake     chan struct{}
	stopChan chan struct{}
	workerWg sync.WaitGroup
	started  bool
	mu       sync.Mutex
	now      func() time.Time
	log      zerolog.Logger
}

// NewQueue creates a new webhook queue
func NewQueue(taskRepo repository.TaskRepository, registry *provider.Registry, engine *Engine, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Queue{
		taskRepo: taskRepo,
		registry: registry,
		engine:   engine,
		cfg:      cfg,
		jobQueue: make(chan ingestdomain.IngestTask, cfg.Workers),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		now:      time.Now,
		log:      logger.Component("ingest-queue"),
	}
}

// Enqueue stores a delivery and wakes the dispatcher
func (q *Queue) Enqueue(ctx context.Context, task *ingestdomain.IngestTask) error {
	if err := q.taskRepo.Enqueue(ctx, task); err != nil {
		return err
	}
	q.notify()
	return nil
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start starts the dispatcher and the workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.workerWg.Add(1)
		go q.worker(i)
	}
	go q.dispatch()
	q.started = true
	q.log.Info().Int("workers", q.cfg.Workers).Msg("Ingest queue started")
}

// Stop stops claiming new tasks and waits for in-flight ones.
// Tasks still leased when the process exits become claimable once the lease lapses.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopChan)
	q.workerWg.Wait()
	q.log.Info().Msg("Ingest queue stopped")
}

func (q *Queue) dispatch() {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()
	defer close(q.jobQueue)

	q.claimAndDispatch()
	for {
		select {
		case <-ticker.C:
			q.claimAndDispatch()
		case <-q.wake:
			q.claimAndDispatch()
		case <-purge.C:
			q.purge()
		case <-q.stopChan:
			return
		}
	}
}

func (q *Queue) claimAndDispatch() {
	for {
		tasks, err := q.taskRepo.Claim(context.Background(), q.cfg.Workers, q.cfg.Lease)
		if err != nil {
			q.log.Error().Err(err).Msg("Failed to claim ingest tasks")
			return
		}
		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			select {
			case q.jobQueue <- task:
			case <-q.stopChan:
				return
			}
		}
	}
}

func (q *Queue) worker(id int) {
	defer q.workerWg.Done()

	for task := range q.jobQueue {
		q.Handle(context.Background(), task)
	}

	q.log.Debug().Int("worker", id).Msg("Ingest worker stopped")
}

// Handle processes one claimed task and settles it as done, retried or dead
func (q *Queue) Handle(ctx context.Context, task ingestdomain.IngestTask) {
	taskLog := q.log.With().
		Str("task_id", task.ID).
		Str("provider", task.Provider).
		Str("source_id", task.SourceID).
		Int("attempt", task.Attempts).
		Logger()

	err := q.process(ctx, task)
	switch {
	case err == nil:
		if err := q.taskRepo.Complete(ctx, task.ID); err != nil {
			taskLog.Error().Err(err).Msg("Failed to complete ingest task")
		}
	case !errs.IsRetryable(err) || task.Attempts >= q.cfg.MaxAttempts:
		taskLog.Error().Err(err).Msg("Ingest task moved to dead letters")
		if err := q.taskRepo.Bury(ctx, task.ID, err); err != nil {
			taskLog.Error().Err(err).Msg("Failed to bury ingest task")
		}
	default:
		next := q.now().Add(q.backoff(task.Attempts))
		taskLog.Warn().Err(err).Time("next_attempt_at", next).Msg("Ingest task failed, will retry")
		if err := q.taskRepo.Retry(ctx, task.ID, err, next); err != nil {
			taskLog.Error().Err(err).Msg("Failed to reschedule ingest task")
		}
	}
}

func (q *Queue) process(ctx context.Context, task ingestdomain.IngestTask) error {
	src, adapter, err := q.registry.ForSource(task.SourceID)
	if err != nil {
		return errs.Mapping(fmt.Errorf("source %q: %w", task.SourceID, err))
	}

	query, _ := url.ParseQuery(task.Query)
	push := ingestdomain.Push{
		Route:       task.Route,
		Body:        task.Payload,
		ContentType: task.ContentType,
		Query:       query,
	}
	records, err := adapter.ParsePush(ctx, src, push)
	if err != nil {
		return errs.Classify(err)
	}

	var failed []error
	for _, rec := range records {
		outcome, err := q.engine.Process(ctx, src, rec)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		q.log.Debug().Str("task_id", task.ID).Str("outcome", string(outcome)).Msg("Record processed")
	}
	if len(failed) == 0 {
		return nil
	}
	joined := errors.Join(failed...)
	// one retryable failure keeps the whole task retryable; redelivered records dedup
	for _, e := range failed {
		if errs.IsRetryable(e) {
			return errs.Classify(e)
		}
	}
	return joined
}

// backoff is base * 2^(attempts-1), capped at an hour
func (q *Queue) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := q.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (q *Queue) purge() {
	n, err := q.taskRepo.PurgeDone(context.Background(), q.now().Add(-q.cfg.Retention))
	if err != nil {
		q.log.Warn().Err(err).Msg("Failed to purge completed ingest tasks")
		return
	}
	if n > 0 {
		q.log.Info().Int64("purged", n).Msg("Purged completed ingest tasks")
	}
}

// ListDead returns tasks that exhausted their attempts
func (q *Queue) ListDead(ctx context.Context, limit, offset int) ([]ingestdomain.IngestTask, int64, error) {
	return q.taskRepo.ListDead(ctx, limit, offset)
}

// Replay moves a dead task back to pending and wakes the dispatcher
func (q *Queue) Replay(ctx context.Context, id string) (*ingestdomain.IngestTask, error) {
	task, err := q.taskRepo.Replay(ctx, id)
	if err != nil {
		return nil, err
	}
	q.notify()
	return task, nil
}
