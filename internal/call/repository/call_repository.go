package repository

import (
	"context"
	"errors"
	"time"

	calldomain "commhub-backend/internal/call/domain"
	"commhub-backend/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult tells the caller what an upsert did to the stored row
type UpsertResult struct {
	Created bool
	// Applied is true when the update won the ordering check and its status was written
	Applied bool
}

type CallFilter struct {
	Status   string
	Provider string
	Limit    int
	Offset   int
}

// CallRepository persists call logs keyed by call_id
type CallRepository interface {
	Upsert(ctx context.Context, update calldomain.CallUpdate) (UpsertResult, error)
	Get(ctx context.Context, callID string) (*calldomain.CallLog, error)
	// FindOpenByParty returns non-terminal calls for a phone number and direction created after since
	FindOpenByParty(ctx context.Context, phone string, direction calldomain.Direction, since time.Time) ([]calldomain.CallLog, error)
	List(ctx context.Context, filter CallFilter) ([]calldomain.CallLog, int64, error)
}

type callRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a new instance of callRepository
func NewCallRepository(db *gorm.DB) CallRepository {
	return &callRepository{db: db}
}

func (r *callRepository) Upsert(ctx context.Context, u calldomain.CallUpdate) (UpsertResult, error) {
	now := time.Now().UTC()
	var lastEventAt *time.Time
	if !u.EventAt.IsZero() {
		eventAt := u.EventAt.UTC()
		lastEventAt = &eventAt
	}
	row := &calldomain.CallLog{
		CallID:          u.CallID,
		Provider:        u.Provider,
		SourceID:        u.SourceID,
		Direction:       u.Direction,
		Caller:          u.Caller,
		Receiver:        u.Receiver,
		AgentNumber:     u.AgentNumber,
		Status:          u.Status,
		ProviderStatus:  u.ProviderStatus,
		StartedAt:       utc(u.StartedAt),
		EndedAt:         utc(u.EndedAt),
		DurationSeconds: u.DurationSeconds,
		RecordingRef:    u.RecordingRef,
		LastEventAt:     lastEventAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var result UpsertResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoNothing: true,
		}).Create(row)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected > 0 {
			result = UpsertResult{Created: true, Applied: true}
			return nil
		}

		// Ordered merge. A re-delivered provider status never applies. Newer provider timestamps win,
		// observations without one only replace other untimestamped ones, and ties go to the higher
		// rank. Terminal statuses are never downgraded.
		updates := map[string]interface{}{
			"status":          u.Status,
			"provider_status": u.ProviderStatus,
			"updated_at":      now,
		}
		setIfPresent(updates, u)

		tied := calldomain.StatusesAtOrBelow(u.Status)
		q := tx.Model(&calldomain.CallLog{}).
			Where("call_id = ?", u.CallID).
			Where("provider_status <> ?", u.ProviderStatus)
		if lastEventAt != nil {
			updates["last_event_at"] = *lastEventAt
			q = q.Where("(last_event_at IS NULL OR last_event_at < ? OR (last_event_at = ? AND status IN ?))", *lastEventAt, *lastEventAt, tied)
		} else {
			q = q.Where("(last_event_at IS NULL AND status IN ?)", tied)
		}
		if !u.Status.IsTerminal() {
			q = q.Where("status NOT IN ?", calldomain.TerminalStatuses())
		}
		applied := q.Updates(updates)
		if applied.Error != nil {
			return applied.Error
		}
		if applied.RowsAffected > 0 {
			result.Applied = true
			return nil
		}

		// Stale observation: only fill columns the stored row is still missing.
		fill := map[string]interface{}{"updated_at": now}
		if u.StartedAt != nil {
			fill["started_at"] = gorm.Expr("COALESCE(started_at, ?)", u.StartedAt.UTC())
		}
		if u.EndedAt != nil {
			fill["ended_at"] = gorm.Expr("COALESCE(ended_at, ?)", u.EndedAt.UTC())
		}
		if u.DurationSeconds != nil {
			fill["duration_seconds"] = gorm.Expr("COALESCE(duration_seconds, ?)", *u.DurationSeconds)
		}
		if u.RecordingRef != nil {
			fill["recording_ref"] = gorm.Expr("COALESCE(recording_ref, ?)", *u.RecordingRef)
		}
		if len(fill) == 1 {
			return nil
		}
		return tx.Model(&calldomain.CallLog{}).Where("call_id = ?", u.CallID).Updates(fill).Error
	})
	if err != nil {
		return UpsertResult{}, errs.Persistence(err)
	}
	return result, nil
}

func setIfPresent(updates map[string]interface{}, u calldomain.CallUpdate) {
	if u.Direction != "" {
		updates["direction"] = u.Direction
	}
	if u.Caller != "" {
		updates["caller"] = u.Caller
	}
	if u.Receiver != "" {
		updates["receiver"] = u.Receiver
	}
	if u.AgentNumber != "" {
		updates["agent_number"] = u.AgentNumber
	}
	if u.StartedAt != nil {
		updates["started_at"] = u.StartedAt.UTC()
	}
	if u.EndedAt != nil {
		updates["ended_at"] = u.EndedAt.UTC()
	}
	if u.DurationSeconds != nil {
		updates["duration_seconds"] = *u.DurationSeconds
	}
	if u.RecordingRef != nil {
		updates["recording_ref"] = *u.RecordingRef
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (r *callRepository) Get(ctx context.Context, callID string) (*calldomain.CallLog, error) {
	var call calldomain.CallLog
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &call, nil
}

func (r *callRepository) FindOpenByParty(ctx context.Context, phone string, direction calldomain.Direction, since time.Time) ([]calldomain.CallLog, error) {
	var calls []calldomain.CallLog
	err := r.db.WithContext(ctx).
		Where("direction = ?", direction).
		Where("caller = ? OR receiver = ?", phone, phone).
		Where("status NOT IN ?", calldomain.TerminalStatuses()).
		Where("created_at >= ?", since.UTC()).
		Order("created_at DESC").
		Find(&calls).Error
	return calls, err
}

func (r *callRepository) List(ctx context.Context, filter CallFilter) ([]calldomain.CallLog, int64, error) {
	q := r.db.WithContext(ctx).Model(&calldomain.CallLog{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
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
	var calls []calldomain.CallLog
	err := q.Order("COALESCE(started_at, created_at) DESC").Limit(limit).Offset(filter.Offset).Find(&calls).Error
	return calls, total, err
}
