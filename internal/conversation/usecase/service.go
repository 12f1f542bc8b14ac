package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	conversationdomain "commhub-backend/internal/conversation/domain"
	"commhub-backend/internal/conversation/repository"
	"commhub-backend/internal/provider"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/logger"
	"commhub-backend/pkg/realtime"

	"github.com/rs/zerolog"
)

// ErrEmptyMessage is returned when an agent tries to send a blank reply
var ErrEmptyMessage = errors.New("message text is empty")

// ConversationService holds the agent-facing conversation operations
type ConversationService struct {
	convRepo        repository.ConversationRepository
	registry        *provider.Registry
	publisher       realtime.Publisher
	providerTimeout time.Duration
	log             zerolog.Logger
}

// NewConversationService creates a new conversation service
func NewConversationService(
	convRepo repository.ConversationRepository,
	registry *provider.Registry,
	publisher realtime.Publisher,
	providerTimeout time.Duration,
) *ConversationService {
	if publisher == nil {
		publisher = realtime.Nop{}
	}
	if providerTimeout <= 0 {
		providerTimeout = 20 * time.Second
	}
	return &ConversationService{
		convRepo:        convRepo,
		registry:        registry,
		publisher:       publisher,
		providerTimeout: providerTimeout,
		log:             logger.Component("conversations"),
	}
}

func (s *ConversationService) List(ctx context.Context, filter repository.ConversationFilter) ([]conversationdomain.Conversation, int64, error) {
	return s.convRepo.List(ctx, filter)
}

func (s *ConversationService) Get(ctx context.Context, id string) (*conversationdomain.Conversation, error) {
	return s.convRepo.Get(ctx, id)
}

func (s *ConversationService) ListMessages(ctx context.Context, id string, limit, offset int) ([]conversationdomain.Message, error) {
	if _, err := s.convRepo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.convRepo.ListMessages(ctx, id, limit, offset)
}

// Resolve closes a conversation; the next inbound message reopens it
func (s *ConversationService) Resolve(ctx context.Context, id string) (*conversationdomain.Conversation, error) {
	return s.setStatus(ctx, id, conversationdomain.StatusResolved, "conversation.resolved")
}

func (s *ConversationService) Archive(ctx context.Context, id string) (*conversationdomain.Conversation, error) {
	return s.setStatus(ctx, id, conversationdomain.StatusArchived, "conversation.archived")
}

func (s *ConversationService) setStatus(ctx context.Context, id string, status conversationdomain.Status, eventType string) (*conversationdomain.Conversation, error) {
	conv, err := s.convRepo.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.publishConversation(ctx, conv, eventType)
	return conv, nil
}

// MarkRead marks one inbound message (or the oldest unread one) as read
func (s *ConversationService) MarkRead(ctx context.Context, id, messageID string) (*conversationdomain.Conversation, error) {
	conv, err := s.convRepo.MarkRead(ctx, id, messageID)
	if err != nil {
		return nil, err
	}
	s.publishConversation(ctx, conv, "conversation.read")
	return conv, nil
}

// Send delivers an agent reply through the conversation's provider.
// Only a successful provider send is recorded; a failure writes nothing.
func (s *ConversationService) Send(ctx context.Context, conversationID, text, agentID string) (*conversationdomain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.convRepo.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	src, adapter, err := s.registry.ForSource(conv.SourceID)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", conv.SourceID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	result := adapter.Send(sendCtx, src, conv.ChannelIdentity, text)
	cancel()
	if result.Err != nil {
		err := errs.Classify(result.Err)
		s.log.Warn().Err(err).
			Str("conversation_id", conv.ID).
			Str("provider", adapter.Provider()).
			Msg("Outbound send failed")
		return nil, err
	}

	msg := &conversationdomain.Message{
		Channel:  conv.Channel,
		DedupKey: result.ExternalID,
		SourceID: conv.SourceID,
		Provider: adapter.Provider(),
		Content:  text,
	}
	if agentID != "" {
		msg.AgentID = &agentID
	}
	if err := s.convRepo.AppendOutbound(ctx, conv.ID, msg); err != nil {
		if errors.Is(err, errs.ErrDuplicateRecord) {
			return msg, nil
		}
		s.log.Error().Err(err).Str("conversation_id", conv.ID).Str("external_id", result.ExternalID).
			Msg("Message sent but could not be recorded")
		return nil, err
	}

	data := map[string]interface{}{"conversation_id": conv.ID, "message": msg}
	realtime.PublishBestEffort(ctx, s.publisher, realtime.ConversationTopic(conv.ID),
		realtime.Event{Type: "message.created", Data: data})
	realtime.PublishBestEffort(ctx, s.publisher, realtime.SourceTopic(conv.SourceID),
		realtime.Event{Type: "message.created", Data: data})
	return msg, nil
}

func (s *ConversationService) publishConversation(ctx context.Context, conv *conversationdomain.Conversation, eventType string) {
	event := realtime.Event{Type: eventType, Data: conv}
	realtime.PublishBestEffort(ctx, s.publisher, realtime.ConversationTopic(conv.ID), event)
	realtime.PublishBestEffort(ctx, s.publisher, realtime.SourceTopic(conv.SourceID), event)
}
