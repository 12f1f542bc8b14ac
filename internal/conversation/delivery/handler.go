package delivery

import (
	"errors"
	"net/http"
	"strconv"

	conversationdto "commhub-backend/internal/conversation/dto"
	"commhub-backend/internal/conversation/repository"
	"commhub-backend/internal/conversation/usecase"
	"commhub-backend/pkg/errs"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	service *usecase.ConversationService
}

func NewConversationHandler(service *usecase.ConversationService) *ConversationHandler {
	return &ConversationHandler{
		service: service,
	}
}

func (h *ConversationHandler) List(c *gin.Context) {
	limit, offset := pagination(c, 50)
	filter := repository.ConversationFilter{
		Status:   c.Query("status"),
		Channel:  c.Query("channel"),
		SourceID: c.Query("source_id"),
		Limit:    limit,
		Offset:   offset,
	}

	convs, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conversationdto.ConversationsResponse{
		Conversations: convs,
		Limit:         limit,
		Offset:        offset,
		Total:         total,
	})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) ListMessages(c *gin.Context) {
	limit, offset := pagination(c, 100)
	msgs, err := h.service.ListMessages(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conversationdto.MessagesResponse{Messages: msgs, Limit: limit, Offset: offset})
}

// SendMessage delivers an agent reply through the conversation's provider
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req conversationdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), c.Param("id"), req.Text, req.AgentID)
	if err != nil {
		status := errs.HTTPStatus(err)
		if errors.Is(err, usecase.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ConversationHandler) Resolve(c *gin.Context) {
	conv, err := h.service.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Archive(c *gin.Context) {
	conv, err := h.service.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// MarkRead accepts an optional message_id; without one the oldest unread message is marked
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	var req conversationdto.MarkReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	conv, err := h.service.MarkRead(c.Request.Context(), c.Param("id"), req.MessageID)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func pagination(c *gin.Context, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
