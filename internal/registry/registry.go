// SPDX-License-Identifier: MIT

// Package registry caches one live adapter per source and rebuilds it when
// the source's endpoint configuration changes.
package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rentmesh/rentmesh/internal/adapter"
	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
)

// EndpointResolver yields the endpoint configuration for a source. The file
// based config store takes precedence over the company registration row.
type EndpointResolver func(ctx context.Context, sourceID string) (*domain.SourceEndpoint, error)

// Registry hands out shared adapters keyed by sourceId. Concurrent lookups
// of the same missing source collapse into a single construction.
type Registry struct {
	resolve EndpointResolver
	factory adapter.Factory

	mu       sync.RWMutex
	adapters map[string]adapter.SourceAdapter
	group    singleflight.Group
}

// New builds a registry. A nil factory uses the default transport dispatch.
func New(resolve EndpointResolver, factory adapter.Factory) *Registry {
	if factory == nil {
		factory = adapter.New
	}
	return &Registry{
		resolve:  resolve,
		factory:  factory,
		adapters: make(map[string]adapter.SourceAdapter),
	}
}

// Get returns the adapter for sourceID, constructing it on first use.
func (r *Registry) Get(ctx context.Context, sourceID string) (adapter.SourceAdapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[sourceID]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := r.group.Do(sourceID, func() (any, error) {
		r.mu.RLock()
		a, ok := r.adapters[sourceID]
		r.mu.RUnlock()
		if ok {
			return a, nil
		}

		ep, err := r.resolve(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if ep == nil {
			return nil, domain.E(domain.CodeNotFound, "", "source %s has no endpoint configuration", sourceID)
		}
		built, err := r.factory(sourceID, *ep)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.adapters[sourceID] = built
		r.mu.Unlock()
		log.WithComponent("registry").Debug().
			Str(log.FieldSourceID, sourceID).Str("transport", ep.Transport).
			Msg("adapter constructed")
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(adapter.SourceAdapter), nil
}

// Invalidate drops the cached adapter for sourceID. The next Get rebuilds it
// from fresh endpoint configuration. Wire this to the config store's change
// notifications.
func (r *Registry) Invalidate(sourceID string) {
	r.mu.Lock()
	a, ok := r.adapters[sourceID]
	delete(r.adapters, sourceID)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := a.Close(); err != nil {
		log.WithComponent("registry").Warn().Err(err).
			Str(log.FieldSourceID, sourceID).Msg("closing stale adapter failed")
	}
}

// Close shuts every cached adapter down.
func (r *Registry) Close() error {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = make(map[string]adapter.SourceAdapter)
	r.mu.Unlock()

	var firstErr error
	for _, a := range adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
