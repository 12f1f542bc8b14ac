package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	conversationdomain "commhub-backend/internal/conversation/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InboundWrite is everything needed to materialize one inbound message
type InboundWrite struct {
	Channel         syncdomain.Channel
	SourceID        string
	ChannelIdentity string
	ContactName     string
	Message         *conversationdomain.Message
	ReceivedAt      time.Time
}

// InboundResult describes what materializing an inbound message changed
type InboundResult struct {
	Conversation *conversationdomain.Conversation
	Message      *conversationdomain.Message
	Transition   conversationdomain.Transition
}

type ConversationFilter struct {
	Status   string
	Channel  string
	SourceID string
	Limit    int
	Offset   int
}

// ConversationRepository owns conversations and their messages
type ConversationRepository interface {
	// ApplyInbound inserts the message and applies the state transition in one transaction.
	// It returns errs.ErrDuplicateRecord, with nothing written, when the dedup key was already seen.
	ApplyInbound(ctx context.Context, in InboundWrite, policy conversationdomain.ArchivedPolicy) (*InboundResult, error)
	// HasMessage reports whether any key matches an existing dedup or alternate key on the channel
	HasMessage(ctx context.Context, channel syncdomain.Channel, keys ...string) (bool, error)
	AppendOutbound(ctx context.Context, conversationID string, msg *conversationdomain.Message) error
	SaveClassification(ctx context.Context, id string, summary, team *string) error
	SetStatus(ctx context.Context, id string, status conversationdomain.Status) (*conversationdomain.Conversation, error)
	MarkRead(ctx context.Context, id, messageID string) (*conversationdomain.Conversation, error)
	Get(ctx context.Context, id string) (*conversationdomain.Conversation, error)
	List(ctx context.Context, filter ConversationFilter) ([]conversationdomain.Conversation, int64, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]conversationdomain.Message, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new instance of conversationRepository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) ApplyInbound(ctx context.Context, in InboundWrite, policy conversationdomain.ArchivedPolicy) (*InboundResult, error) {
	if in.Message == nil || in.Message.DedupKey == "" {
		return nil, fmt.Errorf("inbound message without dedup key")
	}
	now := in.ReceivedAt.UTC()
	if in.ReceivedAt.IsZero() {
		now = time.Now().UTC()
	}

	var result InboundResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := hasMessage(tx, in.Channel, in.Message.DedupKey, in.Message.AltKey)
		if err != nil {
			return err
		}
		if seen {
			return errs.ErrDuplicateRecord
		}

		conv, created, err := findOrCreate(tx, in, now)
		if err != nil {
			return err
		}

		msg := in.Message
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		msg.Channel = in.Channel
		msg.ConversationID = conv.ID
		msg.Direction = conversationdomain.DirectionInbound
		msg.SenderType = conversationdomain.SenderCustomer
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}

		inserted := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}, {Name: "dedup_key"}},
			DoNothing: true,
		}).Create(msg)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			// lost the race against a concurrent delivery; rollback undoes any conversation insert
			return errs.ErrDuplicateRecord
		}

		transition := conversationdomain.ApplyInbound(!created, conv.Status, policy)
		if transition.Reopened {
			moved := tx.Model(&conversationdomain.Conversation{}).
				Where("id = ? AND status = ?", conv.ID, transition.From).
				Updates(map[string]interface{}{
					"status":         transition.To,
					"reopened_count": gorm.Expr("reopened_count + 1"),
				})
			if moved.Error != nil {
				return moved.Error
			}
			if moved.RowsAffected == 0 {
				// another writer moved the conversation first
				transition = conversationdomain.Transition{From: transition.From, To: transition.From}
			}
		}

		bumped := tx.Model(&conversationdomain.Conversation{}).
			Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"unread_count":    gorm.Expr("unread_count + 1"),
				"last_message_at": now,
				"updated_at":      now,
			})
		if bumped.Error != nil {
			return bumped.Error
		}

		if err := tx.Where("id = ?", conv.ID).First(conv).Error; err != nil {
			return err
		}
		result = InboundResult{Conversation: conv, Message: msg, Transition: transition}
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrDuplicateRecord) {
			return nil, err
		}
		return nil, errs.Persistence(err)
	}
	return &result, nil
}

// findOrCreate reports created=true only for the transaction that inserted the row
func findOrCreate(tx *gorm.DB, in InboundWrite, now time.Time) (*conversationdomain.Conversation, bool, error) {
	conv := &conversationdomain.Conversation{
		ID:              uuid.New().String(),
		Channel:         in.Channel,
		SourceID:        in.SourceID,
		ChannelIdentity: in.ChannelIdentity,
		ContactName:     in.ContactName,
		Status:          conversationdomain.StatusOpen,
		LastMessageAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inserted := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel"}, {Name: "source_id"}, {Name: "channel_identity"}},
		DoNothing: true,
	}).Create(conv)
	if inserted.Error != nil {
		return nil, false, inserted.Error
	}
	if inserted.RowsAffected > 0 {
		return conv, true, nil
	}

	var existing conversationdomain.Conversation
	err := tx.Where("channel = ? AND source_id = ? AND channel_identity = ?", in.Channel, in.SourceID, in.ChannelIdentity).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	if existing.ContactName == "" && in.ContactName != "" {
		if err := tx.Model(&existing).Update("contact_name", in.ContactName).Error; err != nil {
			return nil, false, err
		}
	}
	return &existing, false, nil
}

func hasMessage(db *gorm.DB, channel syncdomain.Channel, keys ...string) (bool, error) {
	var filtered []string
	for _, k := range keys {
		if k != "" {
			filtered = append(filtered, k)
		}
	}
	if len(filtered) == 0 {
		return false, nil
	}

	var count int64
	err := db.Model(&conversationdomain.Message{}).
		Where("channel = ?", channel).
		Where("dedup_key IN ? OR alt_key IN ?", filtered, filtered).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *conversationRepository) HasMessage(ctx context.Context, channel syncdomain.Channel, keys ...string) (bool, error) {
	return hasMessage(r.db.WithContext(ctx), channel, keys...)
}

func (r *conversationRepository) AppendOutbound(ctx context.Context, conversationID string, msg *conversationdomain.Message) error {
	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.DedupKey == "" {
		msg.DedupKey = "out:" + msg.ID
	}
	msg.ConversationID = conversationID
	msg.Direction = conversationdomain.DirectionOutbound
	msg.SenderType = conversationdomain.SenderAgent
	msg.IsRead = true
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}, {Name: "dedup_key"}},
			DoNothing: true,
		}).Create(msg)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			return errs.ErrDuplicateRecord
		}
		return tx.Model(&conversationdomain.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]interface{}{"last_message_at": msg.CreatedAt, "updated_at": now}).Error
	})
	if err != nil && !errors.Is(err, errs.ErrDuplicateRecord) {
		return errs.Persistence(err)
	}
	return err
}

func (r *conversationRepository) SaveClassification(ctx context.Context, id string, summary, team *string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&conversationdomain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"summary":       summary,
			"assigned_team": team,
			"classified_at": now,
			"updated_at":    now,
		}).Error
}

func (r *conversationRepository) SetStatus(ctx context.Context, id string, status conversationdomain.Status) (*conversationdomain.Conversation, error) {
	res := r.db.WithContext(ctx).Model(&conversationdomain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errs.ErrNotFound
	}
	return r.Get(ctx, id)
}

// MarkRead marks one unread inbound message as read and decrements the counter.
// With an empty messageID the oldest unread inbound message is used.
// The counter never goes below zero and a message is only counted once.
func (r *conversationRepository) MarkRead(ctx context.Context, id, messageID string) (*conversationdomain.Conversation, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv conversationdomain.Conversation
		if err := tx.Where("id = ?", id).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrNotFound
			}
			return err
		}

		if messageID == "" {
			var oldest conversationdomain.Message
			err := tx.Where("conversation_id = ? AND direction = ? AND is_read = ?", id, conversationdomain.DirectionInbound, false).
				Order("created_at ASC").
				First(&oldest).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			messageID = oldest.ID
		}

		if messageID != "" {
			marked := tx.Model(&conversationdomain.Message{}).
				Where("id = ? AND conversation_id = ? AND is_read = ?", messageID, id, false).
				Update("is_read", true)
			if marked.Error != nil {
				return marked.Error
			}
			if marked.RowsAffected == 0 {
				return nil
			}
		}

		return tx.Model(&conversationdomain.Conversation{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"unread_count": gorm.Expr("CASE WHEN unread_count > 0 THEN unread_count - 1 ELSE 0 END"),
				"updated_at":   time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *conversationRepository) Get(ctx context.Context, id string) (*conversationdomain.Conversation, error) {
	var conv conversationdomain.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) List(ctx context.Context, filter ConversationFilter) ([]conversationdomain.Conversation, int64, error) {
	q := r.db.WithContext(ctx).Model(&conversationdomain.Conversation{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Channel != "" {
		q = q.Where("channel = ?", filter.Channel)
	}
	if filter.SourceID != "" {
		q = q.Where("source_id = ?", filter.SourceID)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var convs []conversationdomain.Conversation
	err := q.Order("last_message_at DESC").Limit(limit).Offset(filter.Offset).Find(&convs).Error
	return convs, total, err
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]conversationdomain.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var msgs []conversationdomain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	return msgs, err
}
