package fcm

import (
	"context"
	"testing"

	"commhub-backend/pkg/realtime"
)

type recordingSender struct {
	topics []string
	last   NotificationData
}

func (r *recordingSender) SendToTopic(_ context.Context, topic string, n NotificationData) error {
	r.topics = append(r.topics, topic)
	r.last = n
	return nil
}

func TestPublisherFiltersEventTypes(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(sender, "commhub", "conversation.opened")

	if err := p.Publish(context.Background(), "source:wa-main", realtime.Event{Type: "message.created"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sender.topics) != 0 {
		t.Fatalf("expected message.created to be ignored")
	}

	event := realtime.Event{Type: "conversation.opened", Data: map[string]interface{}{"channel_identity": "+1555", "channel": "chat"}}
	if err := p.Publish(context.Background(), "source:wa-main", event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sender.topics) != 1 || sender.topics[0] != "commhub-source-wa-main" {
		t.Fatalf("unexpected topics %v", sender.topics)
	}
	if sender.last.Body != "+1555 via chat" {
		t.Fatalf("unexpected body %q", sender.last.Body)
	}
}
