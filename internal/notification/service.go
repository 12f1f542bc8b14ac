package notification

import (
	"context"
	"fmt"
	"time"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/provider"
	"commhub-backend/pkg/logger"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const gmailProvider = "gmail"

// Enqueuer persists a mailbox change for the ingestion workers
type Enqueuer interface {
	Enqueue(ctx context.Context, task *ingestdomain.IngestTask) error
}

// Service pulls Gmail mailbox notifications from a Pub/Sub subscription. It is the pull-mode
// counterpart of the Gmail push webhook and feeds the same ingestion queue.
type Service struct {
	pubsubClient *pubsub.Client
	registry     *provider.Registry
	queue        Enqueuer
	topicName    string
	subName      string
	log          zerolog.Logger
}

func NewService(projectID, topicName, credentialsFile string, registry *provider.Registry, queue Enqueuer) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Service{
		pubsubClient: client,
		registry:     registry,
		queue:        queue,
		topicName:    topicName,
		subName:      topicName + "-sub",
		log:          logger.Component("pubsub"),
	}, nil
}

// Start blocks receiving messages until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	s.log.Info().Str("topic", s.topicName).Str("subscription", s.subName).Msg("Starting mailbox notification subscriber")

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Error checking subscription existence")
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("Error checking topic existence")
			return
		}
		if !topicExists {
			s.log.Warn().Msg("Topic does not exist, cannot create subscription")
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to create subscription")
			return
		}
		s.log.Info().Str("subscription", s.subName).Msg("Created subscription")
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		// Nack lets Pub/Sub redeliver when the queue could not persist the change
		if err := s.Handle(ctx, msg.Data); err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Mailbox notification not queued")
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Error receiving messages")
	}
}

// Handle queues one notification. Notifications for unknown mailboxes are dropped without error.
func (s *Service) Handle(ctx context.Context, data []byte) error {
	n, err := provider.DecodeNotification(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed mailbox notification")
		return nil
	}

	src, err := s.registry.ResolvePush(gmailProvider, "", n.EmailAddress)
	if err != nil {
		s.log.Debug().Str("mailbox", n.EmailAddress).Msg("Notification for a mailbox without source")
		return nil
	}

	return s.queue.Enqueue(ctx, &ingestdomain.IngestTask{
		Provider:    gmailProvider,
		SourceID:    src.ID,
		Payload:     data,
		ContentType: "application/json",
	})
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}
