package fcm

import (
	"context"
	"fmt"
	"regexp"

	"commhub-backend/pkg/realtime"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Client wraps Firebase Cloud Messaging functionality
type Client struct {
	messagingClient *messaging.Client
}

// NewClient creates a new FCM client using the provided credentials file
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log.Info().Msg("[FCM] Client initialized")
	return &Client{messagingClient: messagingClient}, nil
}

// NotificationData contains the data to send in a push notification
type NotificationData struct {
	Title string
	Body  string
	Data  map[string]string
}

// SendToTopic sends a notification to every device subscribed to an FCM topic
func (c *Client) SendToTopic(ctx context.Context, topic string, notification NotificationData) error {
	message := &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: notification.Title,
				Body:  notification.Body,
				Icon:  "/icon-192.svg",
			},
		},
	}

	id, err := c.messagingClient.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}
	log.Debug().Str("topic", topic).Str("messageId", id).Msg("[FCM] Topic message sent")
	return nil
}

var invalidTopicChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.~%]`)

// TopicName turns an event topic into a valid FCM topic name
func TopicName(prefix, topic string) string {
	return invalidTopicChars.ReplaceAllString(prefix+"-"+topic, "-")
}

// Sender is the subset of Client used by Publisher
type Sender interface {
	SendToTopic(ctx context.Context, topic string, notification NotificationData) error
}

// Publisher pushes selected events to agents' mobile devices. Other events are ignored.
type Publisher struct {
	sender Sender
	prefix string
	// Types lists the event types worth a device notification
	types map[string]bool
}

func NewPublisher(sender Sender, prefix string, eventTypes ...string) *Publisher {
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	return &Publisher{sender: sender, prefix: prefix, types: types}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event realtime.Event) error {
	if !p.types[event.Type] {
		return nil
	}

	title, body := describe(event)
	return p.sender.SendToTopic(ctx, TopicName(p.prefix, topic), NotificationData{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":  event.Type,
			"topic": topic,
		},
	})
}

func describe(event realtime.Event) (string, string) {
	payload, _ := event.Data.(map[string]interface{})
	str := func(key string) string {
		if v, ok := payload[key].(string); ok {
			return v
		}
		return ""
	}

	switch event.Type {
	case "conversation.opened":
		return "New conversation", fmt.Sprintf("%s via %s", str("channel_identity"), str("channel"))
	case "source.auth_failed":
		return "Source credentials rejected", str("source_id")
	default:
		return event.Type, str("summary")
	}
}
