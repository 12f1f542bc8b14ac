package realtime

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	topic string
	ch    chan Event
}

// Hub is the in-process server-sent-events transport for UI clients
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		bufferSize:  32,
	}
}

// Publish delivers to subscribers of the topic and to wildcard ("*") subscribers.
// Slow clients drop events instead of blocking publishers.
func (h *Hub) Publish(_ context.Context, topic string, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if sub.topic != topic && sub.topic != "*" {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			log.Debug().Str("topic", topic).Msg("SSE subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Subscribe registers a listener; the returned func unregisters it
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	sub := &subscriber{topic: topic, ch: make(chan Event, h.bufferSize)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		if _, ok := h.subscribers[sub]; ok {
			delete(h.subscribers, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
}

// SubscriberCount returns the number of connected listeners
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeHTTP streams a topic to the client until it disconnects
func (h *Hub) ServeHTTP(c *gin.Context, topic string) {
	events, unsubscribe := h.Subscribe(topic)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().Unix()})
			return true
		}
	})
}
