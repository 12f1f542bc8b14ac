package usecase

import (
	"context"
	"sync"
	"time"

	"commhub-backend/internal/conversation/repository"
	"commhub-backend/pkg/ai"
	"commhub-backend/pkg/logger"
	"commhub-backend/pkg/realtime"
	"commhub-backend/pkg/textutil"

	"github.com/rs/zerolog"
)

// ClassificationJob asks for a summary and team for a conversation that was just created or reopened
type ClassificationJob struct {
	ConversationID string
	SourceID       string
	Text           string
}

// ClassificationWorker runs classification in the background so ingestion never waits on the AI provider
type ClassificationWorker struct {
	convRepo    repository.ConversationRepository
	classifier  ai.Classifier
	publisher   realtime.Publisher
	teams       []string
	defaultTeam string
	timeout     time.Duration

	jobQueue    chan ClassificationJob
	workerWg    sync.WaitGroup
	workerCount int
	started     bool
	stopped     bool
	mu          sync.Mutex
	log         zerolog.Logger
}

// NewClassificationWorker creates a new classification worker pool
func NewClassificationWorker(
	convRepo repository.ConversationRepository,
	classifier ai.Classifier,
	publisher realtime.Publisher,
	teams []string,
	defaultTeam string,
	timeout time.Duration,
	workerCount int,
) *ClassificationWorker {
	if workerCount <= 0 {
		workerCount = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if publisher == nil {
		publisher = realtime.Nop{}
	}

	return &ClassificationWorker{
		convRepo:    convRepo,
		classifier:  classifier,
		publisher:   publisher,
		teams:       teams,
		defaultTeam: defaultTeam,
		timeout:     timeout,
		jobQueue:    make(chan ClassificationJob, 500),
		workerCount: workerCount,
		log:         logger.Component("classifier"),
	}
}

// Start starts the workers
func (w *ClassificationWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}

	for i := 0; i < w.workerCount; i++ {
		w.workerWg.Add(1)
		go w.worker(i)
	}
	w.started = true
	w.log.Info().Int("workers", w.workerCount).Msg("Classification workers started")
}

// Stop drains queued jobs and waits for the workers
func (w *ClassificationWorker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.jobQueue)
	w.mu.Unlock()

	w.workerWg.Wait()
	w.log.Info().Msg("All classification workers stopped")
}

func (w *ClassificationWorker) worker(id int) {
	defer w.workerWg.Done()

	for job := range w.jobQueue {
		w.Process(context.Background(), job)
	}

	w.log.Debug().Int("worker", id).Msg("Classification worker stopped")
}

// Submit adds a job to the queue without blocking. It returns false when the queue is full or stopped.
func (w *ClassificationWorker) Submit(job ClassificationJob) bool {
	if w == nil || w.classifier == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	select {
	case w.jobQueue <- job:
		return true
	default:
		w.log.Warn().Str("conversation_id", job.ConversationID).Msg("Classification queue full, job dropped")
		return false
	}
}

// Process classifies one conversation. Failures leave summary and team unset.
func (w *ClassificationWorker) Process(ctx context.Context, job ClassificationJob) {
	if w.classifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result, err := w.classifier.Classify(ctx, job.Text, w.teams)
	if err != nil {
		w.log.Warn().Err(err).Str("conversation_id", job.ConversationID).Msg("Classification failed")
		return
	}

	summary := result.Summary
	if len(summary) > 500 {
		summary = textutil.Truncate(summary, 500) + "..."
	}
	team := ai.NormalizeTeam(result.Team, w.teams, w.defaultTeam)

	var summaryPtr, teamPtr *string
	if summary != "" {
		summaryPtr = &summary
	}
	if team != "" {
		teamPtr = &team
	}
	if err := w.convRepo.SaveClassification(ctx, job.ConversationID, summaryPtr, teamPtr); err != nil {
		w.log.Error().Err(err).Str("conversation_id", job.ConversationID).Msg("Failed to save classification")
		return
	}

	data := map[string]interface{}{
		"conversation_id": job.ConversationID,
		"summary":         summary,
		"team":            team,
	}
	realtime.PublishBestEffort(ctx, w.publisher, realtime.ConversationTopic(job.ConversationID),
		realtime.Event{Type: "conversation.classified", Data: data})
	if job.SourceID != "" {
		realtime.PublishBestEffort(ctx, w.publisher, realtime.SourceTopic(job.SourceID),
			realtime.Event{Type: "conversation.classified", Data: data})
	}

	w.log.Debug().Str("conversation_id", job.ConversationID).Str("team", team).Msg("Conversation classified")
}
