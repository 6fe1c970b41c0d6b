// SPDX-License-Identifier: MIT

// Package sourcehealth tracks per-source response latency and excludes
// chronically slow sources from fan-out with exponential backoff.
package sourcehealth

import (
	"context"
	"sync"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
	"github.com/rentmesh/rentmesh/internal/metrics"
)

// Store is the persistence slice the monitor needs. Get returns a zero
// valued row for sources it has never seen.
type Store interface {
	Get(ctx context.Context, sourceID string) (*domain.SourceHealth, error)
	Put(ctx context.Context, h *domain.SourceHealth) error
	List(ctx context.Context) ([]*domain.SourceHealth, error)
}

// Options are the exclusion thresholds.
type Options struct {
	SlowThreshold time.Duration // a sample above this counts as slow (default 3s)
	SlowRate      float64       // window slow-rate that triggers exclusion (default 0.2)
	MinSamples    int64         // samples required before a window is judged (default 100)
	MaxBackoff    time.Duration // exclusion ceiling (default 24h)
	MaxLevel      int           // backoff level ceiling (default 10)
}

func (o Options) withDefaults() Options {
	if o.SlowThreshold <= 0 {
		o.SlowThreshold = 3 * time.Second
	}
	if o.SlowRate <= 0 {
		o.SlowRate = 0.2
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 100
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 24 * time.Hour
	}
	if o.MaxLevel <= 0 {
		o.MaxLevel = 10
	}
	return o
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Monitor is the health state machine. Updates for the same source are
// serialized on a per-source lock so window counters never race.
type Monitor struct {
	store Store
	opts  Options
	clock clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMonitor builds a monitor over the given store.
func NewMonitor(store Store, opts Options) *Monitor {
	return &Monitor{
		store: store,
		opts:  opts.withDefaults(),
		clock: realClock{},
		locks: make(map[string]*sync.Mutex),
	}
}

// WithClock replaces the monitor clock. Test hook.
func (m *Monitor) WithClock(c clock) *Monitor {
	m.clock = c
	return m
}

func (m *Monitor) lockFor(sourceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sourceID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sourceID] = l
	}
	return l
}

// Observe records one availability call. Timeouts count as slow samples.
// Once the window holds enough samples it is judged and reset: a slow rate
// above the threshold raises the backoff level and excludes the source,
// while a healthy window clears any backoff.
func (m *Monitor) Observe(ctx context.Context, sourceID string, latency time.Duration, timedOut bool) error {
	l := m.lockFor(sourceID)
	l.Lock()
	defer l.Unlock()

	h, err := m.store.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	h.SourceID = sourceID
	h.SampleCount++
	if timedOut || latency > m.opts.SlowThreshold {
		h.SlowCount++
	}
	h.SlowRate = float64(h.SlowCount) / float64(h.SampleCount)

	if h.SampleCount >= m.opts.MinSamples {
		m.judgeWindow(h)
	}

	if err := m.store.Put(ctx, h); err != nil {
		return err
	}
	m.publish(h)
	return nil
}

// judgeWindow applies the exclusion rule and starts a fresh window.
func (m *Monitor) judgeWindow(h *domain.SourceHealth) {
	now := m.clock.Now().UTC()
	if h.SlowRate > m.opts.SlowRate {
		if h.BackoffLevel < m.opts.MaxLevel {
			h.BackoffLevel++
		}
		backoff := time.Duration(1<<h.BackoffLevel) * time.Hour
		if backoff > m.opts.MaxBackoff {
			backoff = m.opts.MaxBackoff
		}
		until := now.Add(backoff)
		h.ExcludedUntil = &until
		log.WithComponent("sourcehealth").Warn().
			Str(log.FieldSourceID, h.SourceID).
			Float64("slow_rate", h.SlowRate).
			Int("backoff_level", h.BackoffLevel).
			Time("excluded_until", until).
			Msg("source excluded for slowness")
	} else if h.BackoffLevel > 0 {
		h.BackoffLevel = 0
		h.ExcludedUntil = nil
		log.WithComponent("sourcehealth").Info().
			Str(log.FieldSourceID, h.SourceID).
			Msg("source backoff cleared after healthy window")
	}
	// SlowRate keeps the judged window's value until new samples arrive.
	h.SampleCount = 0
	h.SlowCount = 0
}

// Excluded reports whether sourceID is currently excluded from fan-out.
// An elapsed exclusion is cleared lazily on read.
func (m *Monitor) Excluded(ctx context.Context, sourceID string) (bool, error) {
	h, err := m.store.Get(ctx, sourceID)
	if err != nil {
		return false, err
	}
	if h.ExcludedUntil == nil {
		return false, nil
	}
	if m.clock.Now().Before(*h.ExcludedUntil) {
		return true, nil
	}

	l := m.lockFor(sourceID)
	l.Lock()
	defer l.Unlock()
	h, err = m.store.Get(ctx, sourceID)
	if err != nil {
		return false, err
	}
	if h.ExcludedUntil != nil && !m.clock.Now().Before(*h.ExcludedUntil) {
		h.ExcludedUntil = nil
		if err := m.store.Put(ctx, h); err != nil {
			return false, err
		}
		m.publish(h)
	}
	return h.ExcludedUntil != nil, nil
}

// Reset clears all derived state for a source. Admin operation.
func (m *Monitor) Reset(ctx context.Context, sourceID, actor string) error {
	l := m.lockFor(sourceID)
	l.Lock()
	defer l.Unlock()

	h, err := m.store.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	now := m.clock.Now().UTC()
	h.SourceID = sourceID
	h.SampleCount = 0
	h.SlowCount = 0
	h.SlowRate = 0
	h.BackoffLevel = 0
	h.ExcludedUntil = nil
	h.LastResetBy = actor
	h.LastResetAt = &now
	if err := m.store.Put(ctx, h); err != nil {
		return err
	}
	m.publish(h)
	log.WithComponent("sourcehealth").Info().
		Str(log.FieldSourceID, sourceID).Str("actor", actor).
		Msg("source health reset")
	return nil
}

// List returns the current health rows for every observed source.
func (m *Monitor) List(ctx context.Context) ([]*domain.SourceHealth, error) {
	return m.store.List(ctx)
}

func (m *Monitor) publish(h *domain.SourceHealth) {
	excluded := h.ExcludedUntil != nil && m.clock.Now().Before(*h.ExcludedUntil)
	metrics.SetSourceHealth(h.SourceID, h.SlowRate, h.BackoffLevel, excluded)
}
