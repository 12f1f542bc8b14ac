package usecase

import (
	"context"
	"time"

	"commhub-backend/internal/conversation/repository"
	syncdomain "commhub-backend/internal/sync/domain"

	"github.com/patrickmn/go-cache"
)

// Deduper is the fast-path duplicate check in front of the transactional insert.
// A miss is never authoritative; the unique (channel, dedup_key) index is.
type Deduper struct {
	convRepo repository.ConversationRepository
	seen     *cache.Cache
}

func NewDeduper(convRepo repository.ConversationRepository, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduper{
		convRepo: convRepo,
		seen:     cache.New(ttl, 2*ttl),
	}
}

// IsDuplicate reports whether any of the keys was already materialized on the channel
func (d *Deduper) IsDuplicate(ctx context.Context, channel syncdomain.Channel, keys ...string) (bool, error) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := d.seen.Get(cacheKey(channel, k)); ok {
			return true, nil
		}
	}
	found, err := d.convRepo.HasMessage(ctx, channel, keys...)
	if err != nil {
		return false, err
	}
	if found {
		d.Remember(channel, keys...)
	}
	return found, nil
}

// Remember marks keys as seen until the cache TTL lapses
func (d *Deduper) Remember(channel syncdomain.Channel, keys ...string) {
	for _, k := range keys {
		if k != "" {
			d.seen.SetDefault(cacheKey(channel, k), struct{}{})
		}
	}
}

func cacheKey(channel syncdomain.Channel, key string) string {
	return string(channel) + ":" + key
}
