package testutil

import (
	"context"
	"sync"

	ingestdomain "commhub-backend/internal/ingestion/domain"
	"commhub-backend/internal/provider"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/ai"
	"commhub-backend/pkg/errs"
	"commhub-backend/pkg/realtime"
)

// Adapter is a scriptable provider adapter
type Adapter struct {
	Name    string
	Chan    syncdomain.Channel
	Kind    syncdomain.CursorKind
	Fetch   func(ctx context.Context, src *syncdomain.Source, cursor int64) (provider.Batch, error)
	Parse   func(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error)
	SendFn  func(ctx context.Context, src *syncdomain.Source, destination, text string) provider.SendResult
	RenewFn func(ctx context.Context, src *syncdomain.Source) (*provider.Subscription, error)

	mu    sync.Mutex
	Sends int
}

func (a *Adapter) Provider() string                  { return a.Name }
func (a *Adapter) Channel() syncdomain.Channel       { return a.Chan }
func (a *Adapter) CursorKind() syncdomain.CursorKind { return a.Kind }

func (a *Adapter) FetchNew(ctx context.Context, src *syncdomain.Source, cursor int64) (provider.Batch, error) {
	if a.Fetch == nil {
		return provider.Batch{}, errs.ErrNotSupported
	}
	return a.Fetch(ctx, src, cursor)
}

func (a *Adapter) ParsePush(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error) {
	if a.Parse == nil {
		return nil, errs.ErrNotSupported
	}
	return a.Parse(ctx, src, push)
}

func (a *Adapter) Send(ctx context.Context, src *syncdomain.Source, destination, text string) provider.SendResult {
	a.mu.Lock()
	a.Sends++
	a.mu.Unlock()
	if a.SendFn == nil {
		return provider.SendResult{Err: errs.ErrNotSupported}
	}
	return a.SendFn(ctx, src, destination, text)
}

// SendCount is safe to call while sends run
func (a *Adapter) SendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Sends
}

// Renewable wraps Adapter with the optional Renewer capability
type Renewable struct {
	*Adapter
}

func (r Renewable) Renew(ctx context.Context, src *syncdomain.Source) (*provider.Subscription, error) {
	return r.RenewFn(ctx, src)
}

// Publisher records published events
type Publisher struct {
	mu     sync.Mutex
	Events []realtime.Event
}

func (p *Publisher) Publish(_ context.Context, topic string, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	event.Topic = topic
	p.Events = append(p.Events, event)
	return nil
}

// Count returns how many events of a type were published on any topic
func (p *Publisher) Count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Classifier returns a fixed result or error and counts calls
type Classifier struct {
	Result *ai.Classification
	Err    error

	mu    sync.Mutex
	Calls int
	Texts []string
}

func (c *Classifier) Classify(_ context.Context, text string, _ []string) (*ai.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	c.Texts = append(c.Texts, text)
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Result, nil
}

// CallCount is safe to call while workers run
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls
}
