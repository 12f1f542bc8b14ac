package provider

import (
	"fmt"
	"strings"

	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/errs"
)

// Registry maps providers to adapters and holds the configured sources
type Registry struct {
	adapters map[string]Adapter
	sources  map[string]*syncdomain.Source
	order    []string
}

// NewRegistry fails when an active source names a provider without an adapter
func NewRegistry(sources []syncdomain.Source, adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		sources:  make(map[string]*syncdomain.Source, len(sources)),
	}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	for i := range sources {
		src := sources[i]
		adapter, ok := r.adapters[src.Provider]
		if !ok {
			if src.Active() {
				return nil, fmt.Errorf("source %q: no adapter for provider %q", src.ID, src.Provider)
			}
			continue
		}
		if adapter.Channel() != src.Channel {
			return nil, fmt.Errorf("source %q: provider %q serves channel %q, not %q", src.ID, src.Provider, adapter.Channel(), src.Channel)
		}
		r.sources[src.ID] = &src
		r.order = append(r.order, src.ID)
	}
	return r, nil
}

func (r *Registry) Adapter(provider string) (Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

// ForSource returns an active source with its adapter
func (r *Registry) ForSource(id string) (*syncdomain.Source, Adapter, error) {
	src, ok := r.sources[id]
	if !ok || !src.Active() {
		return nil, nil, fmt.Errorf("source %q: %w", id, errs.ErrNotFound)
	}
	return src, r.adapters[src.Provider], nil
}

// Active lists active sources of the given channels in configuration order
func (r *Registry) Active(channels ...syncdomain.Channel) []*syncdomain.Source {
	out := make([]*syncdomain.Source, 0, len(r.order))
	for _, id := range r.order {
		src := r.sources[id]
		if !src.Active() {
			continue
		}
		if len(channels) == 0 || containsChannel(channels, src.Channel) {
			out = append(out, src)
		}
	}
	return out
}

// All lists every configured source, active or not
func (r *Registry) All() []*syncdomain.Source {
	out := make([]*syncdomain.Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// ByIdentity finds the active source of a provider by its identity.
// Phone numbers compare on digits only, addresses case-insensitively.
func (r *Registry) ByIdentity(provider, identity string) (*syncdomain.Source, bool) {
	if identity == "" {
		return nil, false
	}
	for _, src := range r.Active() {
		if src.Provider == provider && sameIdentity(src.Identity, identity) {
			return src, true
		}
	}
	return nil, false
}

// ResolvePush picks the source a webhook delivery belongs to: an explicit source id, the identity in the
// payload, or the only active source of the provider
func (r *Registry) ResolvePush(provider, sourceID, identity string) (*syncdomain.Source, error) {
	if sourceID != "" {
		src, ok := r.sources[sourceID]
		if !ok || !src.Active() || src.Provider != provider {
			return nil, fmt.Errorf("source %q for provider %s: %w", sourceID, provider, errs.ErrNotFound)
		}
		return src, nil
	}
	if src, ok := r.ByIdentity(provider, identity); ok {
		return src, nil
	}

	var candidates []*syncdomain.Source
	for _, src := range r.Active() {
		if src.Provider == provider {
			candidates = append(candidates, src)
		}
	}
	if len(candidates) == 1 && identity == "" {
		return candidates[0], nil
	}
	return nil, fmt.Errorf("no source of provider %s matches %q: %w", provider, identity, errs.ErrNotFound)
}

func containsChannel(channels []syncdomain.Channel, c syncdomain.Channel) bool {
	for _, ch := range channels {
		if ch == c {
			return true
		}
	}
	return false
}

func sameIdentity(a, b string) bool {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return true
	}
	da, db := digits(a), digits(b)
	return da != "" && da == db && !strings.Contains(a, "@") && !strings.Contains(b, "@")
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
