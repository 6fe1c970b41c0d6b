// SPDX-License-Identifier: MIT

package sourcehealth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentmesh/rentmesh/internal/domain"
)

type memHealthStore struct {
	mu   sync.Mutex
	rows map[string]domain.SourceHealth
}

func newMemHealthStore() *memHealthStore {
	return &memHealthStore{rows: make(map[string]domain.SourceHealth)}
}

func (s *memHealthStore) Get(ctx context.Context, sourceID string) (*domain.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[sourceID]
	row.SourceID = sourceID
	return &row, nil
}

func (s *memHealthStore) Put(ctx context.Context, h *domain.SourceHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[h.SourceID] = *h
	return nil
}

func (s *memHealthStore) List(ctx context.Context) ([]*domain.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.SourceHealth, 0, len(s.rows))
	for _, row := range s.rows {
		cp := row
		out = append(out, &cp)
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(minSamples int64) (*Monitor, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(newMemHealthStore(), Options{
		SlowThreshold: 100 * time.Millisecond,
		SlowRate:      0.2,
		MinSamples:    minSamples,
	}).WithClock(clk)
	return m, clk
}

// feed records n samples, slow of which exceed the threshold.
func feed(t *testing.T, m *Monitor, sourceID string, n, slow int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		latency := 10 * time.Millisecond
		if i < slow {
			latency = 500 * time.Millisecond
		}
		require.NoError(t, m.Observe(ctx, sourceID, latency, false))
	}
}

func TestNoJudgementBeforeMinSamples(t *testing.T) {
	m, _ := newTestMonitor(10)
	feed(t, m, "s1", 9, 9)

	excluded, err := m.Excluded(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, excluded, "all slow but below the sample floor")
}

func TestSlowWindowExcludesWithBackoff(t *testing.T) {
	m, clk := newTestMonitor(10)
	feed(t, m, "s1", 10, 5)

	ctx := context.Background()
	excluded, err := m.Excluded(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, excluded)

	h, err := m.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.BackoffLevel)
	require.NotNil(t, h.ExcludedUntil)
	assert.Equal(t, clk.Now().Add(2*time.Hour), *h.ExcludedUntil, "level 1 excludes for 2^1 hours")
	assert.EqualValues(t, 0, h.SampleCount, "window resets after judgement")
}

func TestBackoffDoublesPerBadWindow(t *testing.T) {
	m, clk := newTestMonitor(10)
	ctx := context.Background()

	feed(t, m, "s1", 10, 10)
	clk.advance(3 * time.Hour)
	feed(t, m, "s1", 10, 10)

	h, err := m.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, h.BackoffLevel)
	assert.Equal(t, clk.Now().Add(4*time.Hour), *h.ExcludedUntil)
}

func TestBackoffCappedAt24Hours(t *testing.T) {
	m, _ := newTestMonitor(10)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		feed(t, m, "s1", 10, 10)
	}
	h, err := m.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 8, h.BackoffLevel)
	until := h.ExcludedUntil.Sub(m.clock.Now())
	assert.Equal(t, 24*time.Hour, until, "2^8 hours exceeds the ceiling")
}

func TestBackoffLevelCeiling(t *testing.T) {
	m, _ := newTestMonitor(10)
	for i := 0; i < 15; i++ {
		feed(t, m, "s1", 10, 10)
	}
	h, err := m.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, h.BackoffLevel)
}

func TestHealthyWindowClearsBackoff(t *testing.T) {
	m, clk := newTestMonitor(10)
	ctx := context.Background()

	feed(t, m, "s1", 10, 10)
	clk.advance(2 * time.Hour)
	feed(t, m, "s1", 10, 1) // 10% slow, under the threshold

	h, err := m.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, h.BackoffLevel)
	assert.Nil(t, h.ExcludedUntil)
}

func TestExclusionClearsLazilyAfterExpiry(t *testing.T) {
	m, clk := newTestMonitor(10)
	ctx := context.Background()

	feed(t, m, "s1", 10, 10)
	excluded, err := m.Excluded(ctx, "s1")
	require.NoError(t, err)
	require.True(t, excluded)

	clk.advance(150 * time.Minute)
	excluded, err = m.Excluded(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, excluded)

	h, err := m.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, h.ExcludedUntil, "expiry is persisted on read")
	assert.Equal(t, 1, h.BackoffLevel, "backoff level survives until a healthy window")
}

func TestTimeoutCountsAsSlow(t *testing.T) {
	m, _ := newTestMonitor(10)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Observe(ctx, "s1", 10*time.Millisecond, true))
	}
	excluded, err := m.Excluded(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, excluded)
}

func TestAdminReset(t *testing.T) {
	m, clk := newTestMonitor(10)
	ctx := context.Background()

	feed(t, m, "s1", 10, 10)
	require.NoError(t, m.Reset(ctx, "s1", "admin-7"))

	excluded, err := m.Excluded(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, excluded)

	h, err := m.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, h.BackoffLevel)
	assert.Equal(t, "admin-7", h.LastResetBy)
	require.NotNil(t, h.LastResetAt)
	assert.Equal(t, clk.Now().UTC(), *h.LastResetAt)
}

func TestUnknownSourceIsHealthy(t *testing.T) {
	m, _ := newTestMonitor(10)
	excluded, err := m.Excluded(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, excluded)
}
