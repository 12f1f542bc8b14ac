package delivery

import (
	"net/http"
	"strconv"

	calldto "commhub-backend/internal/call/dto"
	"commhub-backend/internal/call/repository"
	"commhub-backend/internal/call/usecase"
	"commhub-backend/pkg/errs"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	reconciler *usecase.Reconciler
}

func NewCallHandler(reconciler *usecase.Reconciler) *CallHandler {
	return &CallHandler{
		reconciler: reconciler,
	}
}

func (h *CallHandler) List(c *gin.Context) {
	limit := 50
	offset := 0
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(c.Query("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	calls, total, err := h.reconciler.List(c.Request.Context(), repository.CallFilter{
		Status:   c.Query("status"),
		Provider: c.Query("provider"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, calldto.CallsResponse{Calls: calls, Limit: limit, Offset: offset, Total: total})
}

func (h *CallHandler) Get(c *gin.Context) {
	call, err := h.reconciler.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, call)
}
