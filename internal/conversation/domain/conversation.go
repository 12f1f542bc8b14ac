package domain

import (
	"time"

	syncdomain "commhub-backend/internal/sync/domain"
)

// Status is the lifecycle state of a conversation
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

// Conversation is a thread with one customer identity on one source.
// Rows are never hard-deleted.
type Conversation struct {
	ID       string             `json:"id" gorm:"primaryKey"`
	Channel  syncdomain.Channel `json:"channel" gorm:"type:varchar(16);not null;uniqueIndex:idx_conversation_identity"`
	SourceID string             `json:"source_id" gorm:"not null;uniqueIndex:idx_conversation_identity"`
	// ChannelIdentity is the customer's phone number or email address
	ChannelIdentity string     `json:"channel_identity" gorm:"not null;uniqueIndex:idx_conversation_identity"`
	ContactName     string     `json:"contact_name"`
	Status          Status     `json:"status" gorm:"type:varchar(16);not null;index"`
	UnreadCount     int        `json:"unread_count" gorm:"not null"`
	AssignedTeam    *string    `json:"assigned_team,omitempty"`
	AssignedAgent   *string    `json:"assigned_agent,omitempty"`
	Summary         *string    `json:"summary,omitempty" gorm:"type:text"`
	ClassifiedAt    *time.Time `json:"classified_at,omitempty"`
	ReopenedCount   int        `json:"reopened_count"`
	LastMessageAt   time.Time  `json:"last_message_at" gorm:"index"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}
