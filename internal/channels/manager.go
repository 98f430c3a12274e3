package channels

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/unibox/internal/bus"
)

// Registry maps channel names to adapters. All dispatch on channel name goes
// through it.
type Registry struct {
	adapters map[bus.Channel]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[bus.Channel]Adapter)}
}

// Register adds or replaces the adapter for its channel.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	slog.Info("channel registered", "channel", a.Name())
}

// Get returns the adapter for ch.
func (r *Registry) Get(ch bus.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}

// Lookup resolves a channel name, returning *UnsupportedChannelError when no
// adapter is registered under it.
func (r *Registry) Lookup(name string) (Adapter, error) {
	ch, _ := bus.ParseChannel(name)
	if a, ok := r.Get(ch); ok {
		return a, nil
	}
	return nil, &UnsupportedChannelError{Channel: name}
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for ch := range r.adapters {
		names = append(names, string(ch))
	}
	sort.Strings(names)
	return names
}
