// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentmesh/rentmesh/internal/adapter"
	"github.com/rentmesh/rentmesh/internal/domain"
)

type countingAdapter struct {
	*adapter.Mock
	closed atomic.Bool
}

func (c *countingAdapter) Close() error {
	c.closed.Store(true)
	return nil
}

func staticResolver(eps map[string]domain.SourceEndpoint) EndpointResolver {
	return func(ctx context.Context, sourceID string) (*domain.SourceEndpoint, error) {
		ep, ok := eps[sourceID]
		if !ok {
			return nil, nil
		}
		return &ep, nil
	}
}

func TestGetCachesPerSource(t *testing.T) {
	var built atomic.Int32
	r := New(
		staticResolver(map[string]domain.SourceEndpoint{"s1": {Transport: "mock"}}),
		func(sourceID string, ep domain.SourceEndpoint) (adapter.SourceAdapter, error) {
			built.Add(1)
			return &countingAdapter{Mock: adapter.NewMock(sourceID, adapter.MockScript{})}, nil
		},
	)
	ctx := context.Background()

	a1, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	a2, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.EqualValues(t, 1, built.Load())
}

func TestGetCollapsesConcurrentBuilds(t *testing.T) {
	var built atomic.Int32
	gate := make(chan struct{})
	r := New(
		staticResolver(map[string]domain.SourceEndpoint{"s1": {Transport: "mock"}}),
		func(sourceID string, ep domain.SourceEndpoint) (adapter.SourceAdapter, error) {
			built.Add(1)
			<-gate
			return adapter.NewMock(sourceID, adapter.MockScript{}), nil
		},
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Get(context.Background(), "s1")
			assert.NoError(t, err)
		}()
	}
	close(gate)
	wg.Wait()
	assert.EqualValues(t, 1, built.Load(), "concurrent lookups share one construction")
}

func TestGetUnknownSource(t *testing.T) {
	r := New(staticResolver(nil), nil)
	_, err := r.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvalidateClosesAndRebuilds(t *testing.T) {
	var built atomic.Int32
	var last *countingAdapter
	r := New(
		staticResolver(map[string]domain.SourceEndpoint{"s1": {Transport: "mock"}}),
		func(sourceID string, ep domain.SourceEndpoint) (adapter.SourceAdapter, error) {
			built.Add(1)
			last = &countingAdapter{Mock: adapter.NewMock(sourceID, adapter.MockScript{})}
			return last, nil
		},
	)
	ctx := context.Background()

	_, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	first := last

	r.Invalidate("s1")
	assert.True(t, first.closed.Load())

	_, err = r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, built.Load())
}

func TestCloseShutsEverythingDown(t *testing.T) {
	adapters := map[string]*countingAdapter{}
	r := New(
		staticResolver(map[string]domain.SourceEndpoint{"s1": {Transport: "mock"}, "s2": {Transport: "mock"}}),
		func(sourceID string, ep domain.SourceEndpoint) (adapter.SourceAdapter, error) {
			a := &countingAdapter{Mock: adapter.NewMock(sourceID, adapter.MockScript{})}
			adapters[sourceID] = a
			return a, nil
		},
	)
	ctx := context.Background()
	_, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	_, err = r.Get(ctx, "s2")
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, adapters["s1"].closed.Load())
	assert.True(t, adapters["s2"].closed.Load())
}
