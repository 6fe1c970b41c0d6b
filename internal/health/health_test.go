// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoCheckersIsReady(t *testing.T) {
	m := NewManager("1.0.0")

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, "1.0.0", resp.Version)
}

func TestUnhealthyDependencyFlipsReadiness(t *testing.T) {
	m := NewManager("1.0.0")
	m.Register(NewPingChecker("db", func(ctx context.Context) error { return nil }))
	m.Register(NewPingChecker("redis", func(ctx context.Context) error { return errors.New("connection refused") }))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["db"].Status)
	assert.Equal(t, StatusUnhealthy, resp.Checks["redis"].Status)
}

func TestLivenessAlways200(t *testing.T) {
	m := NewManager("1.0.0")
	m.Register(NewPingChecker("db", func(ctx context.Context) error { return errors.New("down") }))

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status, "the verdict is honest even when liveness passes")
}

func TestGaugeCheckerDegradesOnly(t *testing.T) {
	m := NewManager("1.0.0")
	backlog := 100.0
	m.Register(NewGaugeChecker("purge_backlog", 50, func() (float64, string) {
		return backlog, "expired jobs awaiting purge"
	}))

	resp := m.evaluate(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.True(t, resp.Ready, "degraded still serves traffic")

	backlog = 10
	resp = m.evaluate(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
}
