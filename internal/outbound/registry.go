package outbound

import (
	"context"
	"sync"

	"github.com/thrillee/smppgateway/internal/store"
)

// BackendResolver resolves a backend row by name.
type BackendResolver interface {
	EnsureBackend(ctx context.Context, name string) (store.Backend, error)
}

// Registry hands out one Backend per name, resolving each name once.
type Registry struct {
	resolver BackendResolver
	db       Inserter
	pub      Publisher
	cfg      Config

	mu       sync.Mutex
	backends map[string]*Backend
}

func NewRegistry(resolver BackendResolver, db Inserter, pub Publisher, cfg Config) *Registry {
	return &Registry{
		resolver: resolver,
		db:       db,
		pub:      pub,
		cfg:      cfg,
		backends: make(map[string]*Backend),
	}
}

// Get returns the Backend for name, creating the backend row on first use.
func (r *Registry) Get(ctx context.Context, name string) (*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[name]; ok {
		return b, nil
	}
	row, err := r.resolver.EnsureBackend(ctx, name)
	if err != nil {
		return nil, err
	}
	b := NewBackend(row, r.db, r.pub, r.cfg)
	r.backends[name] = b
	return b, nil
}
