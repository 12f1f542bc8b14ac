package repository

import (
	"context"
	"errors"
	"time"

	syncdomain "commhub-backend/internal/sync/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorRepository is the durable per-source cursor store
type CursorRepository interface {
	// FetchSince returns the stored cursor, or the start sentinel for a never-polled source
	FetchSince(ctx context.Context, sourceID string, kind syncdomain.CursorKind) (*syncdomain.SyncCursor, error)
	// Advance writes value only if it is strictly greater than the stored one.
	// It reports whether the cursor moved.
	Advance(ctx context.Context, sourceID string, kind syncdomain.CursorKind, value int64) (bool, error)
	// RecordAttempt stores poll telemetry; a nil syncErr also stamps last_success_at
	RecordAttempt(ctx context.Context, sourceID string, kind syncdomain.CursorKind, syncErr error) error
	List(ctx context.Context) ([]syncdomain.SyncCursor, error)
}

type cursorRepository struct {
	db *gorm.DB
}

// NewCursorRepository creates a new instance of cursorRepository
func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) FetchSince(ctx context.Context, sourceID string, kind syncdomain.CursorKind) (*syncdomain.SyncCursor, error) {
	var cursor syncdomain.SyncCursor
	err := r.db.WithContext(ctx).Where("source_id = ?", sourceID).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &syncdomain.SyncCursor{SourceID: sourceID, Kind: kind, Value: syncdomain.CursorStart}, nil
		}
		return nil, err
	}
	return &cursor, nil
}

func (r *cursorRepository) Advance(ctx context.Context, sourceID string, kind syncdomain.CursorKind, value int64) (bool, error) {
	now := time.Now().UTC()
	cursor := &syncdomain.SyncCursor{
		SourceID:  sourceID,
		Kind:      kind,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// INSERT ... ON CONFLICT (source_id) DO UPDATE ... WHERE stored < incoming
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      gorm.Expr("excluded.value"),
			"kind":       gorm.Expr("excluded.kind"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "sync_cursors.value < excluded.value"},
		}},
	}).Create(cursor)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *cursorRepository) RecordAttempt(ctx context.Context, sourceID string, kind syncdomain.CursorKind, syncErr error) error {
	now := time.Now().UTC()
	cursor := &syncdomain.SyncCursor{
		SourceID:      sourceID,
		Kind:          kind,
		Value:         syncdomain.CursorStart,
		LastAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	updates := []string{"last_attempt_at", "last_error", "updated_at"}
	if syncErr != nil {
		cursor.LastError = syncErr.Error()
	} else {
		cursor.LastSuccessAt = &now
		updates = append(updates, "last_success_at")
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(cursor).Error
}

func (r *cursorRepository) List(ctx context.Context) ([]syncdomain.SyncCursor, error) {
	var cursors []syncdomain.SyncCursor
	if err := r.db.WithContext(ctx).Order("source_id").Find(&cursors).Error; err != nil {
		return nil, err
	}
	return cursors, nil
}
