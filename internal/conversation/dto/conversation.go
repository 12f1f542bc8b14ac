package dto

import (
	conversationdomain "commhub-backend/internal/conversation/domain"
)

type ConversationsResponse struct {
	Conversations []conversationdomain.Conversation `json:"conversations"`
	Limit         int                               `json:"limit"`
	Offset        int                               `json:"offset"`
	Total         int64                             `json:"total"`
}

type MessagesResponse struct {
	Messages []conversationdomain.Message `json:"messages"`
	Limit    int                          `json:"limit"`
	Offset   int                          `json:"offset"`
}

type SendMessageRequest struct {
	Text    string `json:"text" binding:"required"`
	AgentID string `json:"agent_id"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}
