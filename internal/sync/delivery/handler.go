package delivery

import (
	"context"
	"errors"
	"net/http"

	"commhub-backend/internal/provider"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/internal/sync/repository"
	"commhub-backend/pkg/errs"

	"github.com/gin-gonic/gin"
)

// SourceSyncer runs an on-demand sync of one source
type SourceSyncer interface {
	SyncSource(ctx context.Context, src *syncdomain.Source) error
}

// SourceStatus is one row of the sync dashboard
type SourceStatus struct {
	Source       *syncdomain.Source           `json:"source"`
	Cursor       *syncdomain.SyncCursor       `json:"cursor,omitempty"`
	Subscription *syncdomain.PushSubscription `json:"subscription,omitempty"`
}

type SyncHandler struct {
	registry   *provider.Registry
	cursorRepo repository.CursorRepository
	subRepo    repository.SubscriptionRepository
	syncer     SourceSyncer
}

func NewSyncHandler(registry *provider.Registry, cursorRepo repository.CursorRepository, subRepo repository.SubscriptionRepository, syncer SourceSyncer) *SyncHandler {
	return &SyncHandler{
		registry:   registry,
		cursorRepo: cursorRepo,
		subRepo:    subRepo,
		syncer:     syncer,
	}
}

// ListCursors returns every configured source with its cursor and push subscription
func (h *SyncHandler) ListCursors(c *gin.Context) {
	ctx := c.Request.Context()
	cursors, err := h.cursorRepo.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	bySource := make(map[string]*syncdomain.SyncCursor, len(cursors))
	for i := range cursors {
		bySource[cursors[i].SourceID] = &cursors[i]
	}

	sources := h.registry.All()
	out := make([]SourceStatus, 0, len(sources))
	for _, src := range sources {
		status := SourceStatus{Source: src, Cursor: bySource[src.ID]}
		if sub, err := h.subRepo.Get(ctx, src.ID); err == nil {
			status.Subscription = sub
		}
		out = append(out, status)
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

// Trigger runs a sync of one source now
func (h *SyncHandler) Trigger(c *gin.Context) {
	src, _, err := h.registry.ForSource(c.Param("source_id"))
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if err := h.syncer.SyncSource(c.Request.Context(), src); err != nil {
		status := errs.HTTPStatus(err)
		if errors.Is(err, errs.ErrTransientProvider) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	cursor, _ := h.cursorRepo.FetchSince(c.Request.Context(), src.ID, "")
	c.JSON(http.StatusOK, gin.H{"source_id": src.ID, "cursor": cursor})
}
