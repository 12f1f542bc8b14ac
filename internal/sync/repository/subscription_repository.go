package repository

import (
	"context"
	"errors"
	"time"

	syncdomain "commhub-backend/internal/sync/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionRepository stores push subscription expiry per source
type SubscriptionRepository interface {
	Get(ctx context.Context, sourceID string) (*syncdomain.PushSubscription, error)
	Save(ctx context.Context, sub *syncdomain.PushSubscription) error
	ListExpiring(ctx context.Context, before time.Time) ([]syncdomain.PushSubscription, error)
}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new instance of subscriptionRepository
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Get returns nil, nil when the source has never registered a subscription
func (r *subscriptionRepository) Get(ctx context.Context, sourceID string) (*syncdomain.PushSubscription, error) {
	var sub syncdomain.PushSubscription
	err := r.db.WithContext(ctx).Where("source_id = ?", sourceID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) Save(ctx context.Context, sub *syncdomain.PushSubscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "expires_at", "history_id", "renewed_at"}),
	}).Create(sub).Error
}

func (r *subscriptionRepository) ListExpiring(ctx context.Context, before time.Time) ([]syncdomain.PushSubscription, error) {
	var subs []syncdomain.PushSubscription
	err := r.db.WithContext(ctx).Where("expires_at <= ?", before).Find(&subs).Error
	return subs, err
}
