package domain

import "time"

// CursorKind describes what a cursor value means for a source
type CursorKind string

const (
	CursorMailboxUID   CursorKind = "mailbox_uid"
	CursorHistoryToken CursorKind = "history_token"
	CursorTimestamp    CursorKind = "timestamp"
)

// CursorStart is the sentinel value of a source that has never been polled
const CursorStart int64 = 0

// SyncCursor is the durable resumption position of one source.
// Value never decreases.
type SyncCursor struct {
	SourceID      string     `json:"source_id" gorm:"primaryKey"`
	Kind          CursorKind `json:"kind" gorm:"type:varchar(32);not null"`
	Value         int64      `json:"value" gorm:"not null"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastError     string     `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// IsStart reports whether the cursor is the never-polled sentinel
func (c SyncCursor) IsStart() bool {
	return c.Value <= CursorStart
}

// PushSubscription tracks a provider-side push registration (Gmail watch) and its expiry
type PushSubscription struct {
	SourceID  string    `json:"source_id" gorm:"primaryKey"`
	Provider  string    `json:"provider" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
	HistoryID int64     `json:"history_id"`
	RenewedAt time.Time `json:"renewed_at"`
}

func (PushSubscription) TableName() string {
	return "push_subscriptions"
}

// ExpiresWithin reports whether the subscription lapses before now+window
func (p PushSubscription) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !p.ExpiresAt.After(now.Add(window))
}
