// SPDX-License-Identifier: MIT

// Package cache holds short-lived read-side results: effective coverage
// listings and company display names. Entries expire; nothing in here is a
// source of truth.
package cache

import (
	"fmt"
	"sync"
	"time"
)

// Cache is a TTL key-value store safe for concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Clear()
	Stats() Stats
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

// CoverageKey names the cached effective-coverage listing of an agreement.
func CoverageKey(agreementID string) string {
	return fmt.Sprintf("coverage:%s", agreementID)
}

// CompanyNameKey names the cached display name of a company.
func CompanyNameKey(companyID string) string {
	return fmt.Sprintf("company-name:%s", companyID)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is the in-process backend with a periodic janitor.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats
	stop    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory cache. A positive sweep interval starts a
// janitor that evicts expired entries; Stop it on shutdown.
func NewMemory(sweep time.Duration) *Memory {
	c := &Memory{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go c.janitor(sweep)
	}
	return c
}

func (c *Memory) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *Memory) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.stats.Sets++
}

func (c *Memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Memory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *Memory) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.CurrentSize = len(c.entries)
	return s
}

func (c *Memory) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

func (c *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stop:
			return
		}
	}
}

// Stop terminates the janitor. Idempotent.
func (c *Memory) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Disabled never stores anything.
type Disabled struct{}

func (Disabled) Get(key string) (any, bool)                 { return nil, false }
func (Disabled) Set(key string, value any, d time.Duration) {}
func (Disabled) Delete(key string)                          {}
func (Disabled) Clear()                                     {}
func (Disabled) Stats() Stats                               { return Stats{} }
