package domain

import (
	"time"

	syncdomain "commhub-backend/internal/sync/domain"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
)

// Message is the canonical record of one inbound or outbound message.
// (channel, dedup_key) is unique.
type Message struct {
	ID             string             `json:"id" gorm:"primaryKey"`
	Channel        syncdomain.Channel `json:"channel" gorm:"type:varchar(16);not null;uniqueIndex:idx_message_dedup"`
	DedupKey       string             `json:"dedup_key" gorm:"not null;uniqueIndex:idx_message_dedup"`
	AltKey         string             `json:"alt_key,omitempty" gorm:"index"`
	ConversationID string             `json:"conversation_id" gorm:"not null;index"`
	SourceID       string             `json:"source_id" gorm:"index"`
	Provider       string             `json:"provider"`
	Direction      Direction          `json:"direction" gorm:"type:varchar(16);not null"`
	SenderType     SenderType         `json:"sender_type" gorm:"type:varchar(16);not null"`
	AgentID        *string            `json:"agent_id,omitempty"`
	Content        string             `json:"content" gorm:"type:text"`
	MediaRef       *string            `json:"media_ref,omitempty"`
	IsRead         bool               `json:"is_read"`
	ExternalAt     *time.Time         `json:"external_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at" gorm:"index"`
}

func (Message) TableName() string {
	return "messages"
}
