// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
)

// SourceConfigs maps sourceId to endpoint configuration. The file is a flat
// JSON object: {"src-1": {"transport":"http","address":"https://...","auth":"..."}}.
type SourceConfigs map[string]domain.SourceEndpoint

// SourceConfigStore holds the current source endpoint configs and notifies
// listeners when the backing file changes.
type SourceConfigStore struct {
	mu        sync.RWMutex
	path      string
	configs   SourceConfigs
	listeners []func(sourceID string)
	watcher   *fsnotify.Watcher
}

// LoadSourceConfigs reads the config file. A missing path yields an empty set;
// sources can then only be resolved through their company endpoint rows.
func LoadSourceConfigs(path string) (SourceConfigs, error) {
	if path == "" {
		return SourceConfigs{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source configs: %w", err)
	}
	var cfgs SourceConfigs
	if err := json.Unmarshal(raw, &cfgs); err != nil {
		return nil, fmt.Errorf("parse source configs: %w", err)
	}
	return cfgs, nil
}

// NewSourceConfigStore loads the file and returns a store ready for watching.
func NewSourceConfigStore(path string) (*SourceConfigStore, error) {
	cfgs, err := LoadSourceConfigs(path)
	if err != nil {
		return nil, err
	}
	return &SourceConfigStore{path: path, configs: cfgs}, nil
}

// Get returns the endpoint config for a source, if present.
func (s *SourceConfigStore) Get(sourceID string) (domain.SourceEndpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.configs[sourceID]
	return ep, ok
}

// OnChange registers a listener called with each sourceId whose config
// changed or disappeared after a reload.
func (s *SourceConfigStore) OnChange(fn func(sourceID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the file and notifies listeners about changed entries.
func (s *SourceConfigStore) Reload() error {
	fresh, err := LoadSourceConfigs(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.configs
	s.configs = fresh
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	changed := make([]string, 0)
	for id, ep := range fresh {
		if prev, ok := old[id]; !ok || prev != ep {
			changed = append(changed, id)
		}
	}
	for id := range old {
		if _, ok := fresh[id]; !ok {
			changed = append(changed, id)
		}
	}
	for _, id := range changed {
		for _, fn := range listeners {
			fn(id)
		}
	}
	log.WithComponent("config").Info().
		Int("sources", len(fresh)).Int("changed", len(changed)).
		Msg("source configs reloaded")
	return nil
}

// Watch starts an fsnotify watcher on the config file until stop is closed.
// Editors often replace files via rename, so the watcher re-adds the path
// after remove/rename events.
func (s *SourceConfigStore) Watch(stop <-chan struct{}) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	s.watcher = watcher
	logger := log.WithComponent("config")

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
					_ = watcher.Add(s.path)
				}
				if err := s.Reload(); err != nil {
					logger.Error().Err(err).Msg("source config reload failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("source config watcher error")
			}
		}
	}()
	return nil
}
