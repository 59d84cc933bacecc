package ai

import (
	"fmt"
	"strings"
	"sync"
)

type StreamerFactory func() (Streamer, error)

// Registry routes a provider name to a Streamer factory. One provider is
// wired in production; tests register fakes under their own names.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]StreamerFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]StreamerFactory)}
}

func (r *Registry) Register(name string, f StreamerFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(name string) (Streamer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f()
}
