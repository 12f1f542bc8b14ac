package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskDone       TaskStatus = "done"
	TaskDead       TaskStatus = "dead"
)

// IngestTask is one webhook delivery waiting to be processed.
// Failed tasks are retried with backoff and end up dead after the attempt budget.
type IngestTask struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	Provider      string     `json:"provider" gorm:"index;not null"`
	Route         string     `json:"route"`
	SourceID      string     `json:"source_id,omitempty" gorm:"index"`
	Payload       []byte     `json:"-"`
	ContentType   string     `json:"content_type"`
	Query         string     `json:"query,omitempty" gorm:"type:text"`
	Status        TaskStatus `json:"status" gorm:"type:varchar(16);index:idx_task_due;not null"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty" gorm:"type:text"`
	NextAttemptAt time.Time  `json:"next_attempt_at" gorm:"index:idx_task_due"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (IngestTask) TableName() string {
	return "ingest_tasks"
}
