package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type NotifierFactory func(ctx context.Context) (Notifier, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]NotifierFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]NotifierFactory)}
}

func (r *Registry) Register(name string, f NotifierFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string) (Notifier, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown notifier: %s", name)
	}
	return f(ctx)
}
