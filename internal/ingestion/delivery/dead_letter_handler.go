package delivery

import (
	"context"
	"net/http"
	"strconv"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/pkg/errs"

	"github.com/gin-gonic/gin"
)

// DeadLetters lists and replays tasks that ran out of attempts
type DeadLetters interface {
	ListDead(ctx context.Context, limit, offset int) ([]ingestdomain.IngestTask, int64, error)
	Replay(ctx context.Context, id string) (*ingestdomain.IngestTask, error)
}

type DeadLetterHandler struct {
	queue DeadLetters
}

func NewDeadLetterHandler(queue DeadLetters) *DeadLetterHandler {
	return &DeadLetterHandler{queue: queue}
}

func (h *DeadLetterHandler) List(c *gin.Context) {
	limit := 50
	offset := 0
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(c.Query("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	tasks, total, err := h.queue.ListDead(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks":  tasks,
		"limit":  limit,
		"offset": offset,
		"total":  total,
	})
}

func (h *DeadLetterHandler) Replay(c *gin.Context) {
	task, err := h.queue.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}
