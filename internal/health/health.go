// SPDX-License-Identifier: MIT

// Package health serves liveness and readiness probes with per-component
// detail.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rentmesh/rentmesh/internal/log"
)

// Status classifies a component or the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the probe payload.
type Response struct {
	Status    Status                 `json:"status"`
	Ready     bool                   `json:"ready"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates checkers into liveness and readiness verdicts.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates an empty manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// Register adds a checker. Not safe after serving starts.
func (m *Manager) Register(c Checker) {
	m.checkers = append(m.checkers, c)
}

func (m *Manager) evaluate(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Ready:     true,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks = make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		result := c.Check(ctx)
		resp.Checks[c.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
			resp.Ready = false
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// ServeHealth is the liveness probe. It always answers 200: the process is
// alive to say so.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	resp := m.evaluate(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithComponentFromContext(r.Context(), "health").Error().Err(err).Msg("encoding health response failed")
	}
}

// ServeReady is the readiness probe: 503 until every dependency answers.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.evaluate(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithComponentFromContext(r.Context(), "health").Error().Err(err).Msg("encoding readiness response failed")
	}
}

// PingChecker wraps a dependency's ping function.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker builds a checker over fn: nil error is healthy.
func NewPingChecker(name string, fn func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: fn}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// GaugeChecker degrades when a numeric reading exceeds its threshold. Used
// for soft signals like purge backlog.
type GaugeChecker struct {
	name      string
	read      func() (float64, string)
	threshold float64
}

// NewGaugeChecker builds a soft checker: readings above threshold degrade,
// never fail.
func NewGaugeChecker(name string, threshold float64, read func() (float64, string)) *GaugeChecker {
	return &GaugeChecker{name: name, read: read, threshold: threshold}
}

func (c *GaugeChecker) Name() string { return c.name }

func (c *GaugeChecker) Check(ctx context.Context) CheckResult {
	value, msg := c.read()
	if value > c.threshold {
		return CheckResult{Status: StatusDegraded, Message: msg}
	}
	return CheckResult{Status: StatusHealthy, Message: msg}
}
