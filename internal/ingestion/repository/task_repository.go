package repository

import (
	"context"
	"errors"
	"time"

	ingestiondomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/textutil"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskRepository is the durable webhook work queue
type TaskRepository interface {
	Enqueue(ctx context.Context, task *ingestiondomain.IngestTask) error
	// Claim atomically leases up to limit due tasks. Tasks whose lease expired are claimable again.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]ingestiondomain.IngestTask, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error
	Bury(ctx context.Context, id string, cause error) error
	ListDead(ctx context.Context, limit, offset int) ([]ingestiondomain.IngestTask, int64, error)
	// Replay moves a dead task back to pending with a fresh attempt budget
	Replay(ctx context.Context, id string) (*ingestiondomain.IngestTask, error)
	Get(ctx context.Context, id string) (*ingestiondomain.IngestTask, error)
	// PurgeDone deletes completed tasks older than the cutoff
	PurgeDone(ctx context.Context, before time.Time) (int64, error)
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new instance of taskRepository
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Enqueue(ctx context.Context, task *ingestiondomain.IngestTask) error {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.Status = ingestiondomain.TaskPending
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = now
	}
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return errs.Persistence(err)
	}
	return nil
}

func (r *taskRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]ingestiondomain.IngestTask, error) {
	now := time.Now().UTC()
	due := func(db *gorm.DB) *gorm.DB {
		return db.Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_until < ?)",
			ingestiondomain.TaskPending, now, ingestiondomain.TaskProcessing, now)
	}

	var candidates []ingestiondomain.IngestTask
	err := due(r.db.WithContext(ctx)).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	lockedUntil := now.Add(lease)
	claimed := make([]ingestiondomain.IngestTask, 0, len(candidates))
	for _, task := range candidates {
		res := due(r.db.WithContext(ctx).Model(&ingestiondomain.IngestTask{}).Where("id = ?", task.ID)).
			Updates(map[string]interface{}{
				"status":       ingestiondomain.TaskProcessing,
				"locked_until": lockedUntil,
				"attempts":     gorm.Expr("attempts + 1"),
				"updated_at":   now,
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			// claimed by another worker
			continue
		}
		task.Status = ingestiondomain.TaskProcessing
		task.LockedUntil = &lockedUntil
		task.Attempts++
		claimed = append(claimed, task)
	}
	return claimed, nil
}

func (r *taskRepository) Complete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&ingestiondomain.IngestTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       ingestiondomain.TaskDone,
			"locked_until": nil,
			"last_error":   "",
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *taskRepository) Retry(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	return r.db.WithContext(ctx).Model(&ingestiondomain.IngestTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          ingestiondomain.TaskPending,
			"locked_until":    nil,
			"last_error":      errorText(cause),
			"next_attempt_at": nextAttemptAt.UTC(),
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *taskRepository) Bury(ctx context.Context, id string, cause error) error {
	return r.db.WithContext(ctx).Model(&ingestiondomain.IngestTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       ingestiondomain.TaskDead,
			"locked_until": nil,
			"last_error":   errorText(cause),
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *taskRepository) ListDead(ctx context.Context, limit, offset int) ([]ingestiondomain.IngestTask, int64, error) {
	q := r.db.WithContext(ctx).Model(&ingestiondomain.IngestTask{}).
		Where("status = ?", ingestiondomain.TaskDead).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var tasks []ingestiondomain.IngestTask
	err := q.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&tasks).Error
	return tasks, total, err
}

func (r *taskRepository) Replay(ctx context.Context, id string) (*ingestiondomain.IngestTask, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&ingestiondomain.IngestTask{}).
		Where("id = ? AND status = ?", id, ingestiondomain.TaskDead).
		Updates(map[string]interface{}{
			"status":          ingestiondomain.TaskPending,
			"attempts":        0,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errs.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *taskRepository) Get(ctx context.Context, id string) (*ingestiondomain.IngestTask, error) {
	var task ingestiondomain.IngestTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) PurgeDone(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", ingestiondomain.TaskDone, before.UTC()).
		Delete(&ingestiondomain.IngestTask{})
	return res.RowsAffected, res.Error
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return textutil.Truncate(err.Error(), 2000)
}
