// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// HealthStore persists per-source health rows. Writes for one sourceId are
// serialized by the monitor; this store only does plain row I/O.
type HealthStore struct {
	db *sql.DB
}

func NewHealthStore(db *sql.DB) *HealthStore {
	return &HealthStore{db: db}
}

// Get returns the health row of a source, or a zero row when none exists yet.
func (s *HealthStore) Get(ctx context.Context, sourceID string) (*domain.SourceHealth, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_id, sample_count, slow_count, slow_rate, backoff_level, excluded_until, last_reset_by, last_reset_at
		 FROM source_health WHERE source_id = ?`, sourceID)
	h, err := scanHealth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SourceHealth{SourceID: sourceID}, nil
	}
	return h, err
}

// Put upserts the full health row of a source.
func (s *HealthStore) Put(ctx context.Context, h *domain.SourceHealth) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_health (source_id, sample_count, slow_count, slow_rate, backoff_level, excluded_until, last_reset_by, last_reset_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_id) DO UPDATE SET
		 sample_count = excluded.sample_count, slow_count = excluded.slow_count,
		 slow_rate = excluded.slow_rate, backoff_level = excluded.backoff_level,
		 excluded_until = excluded.excluded_until, last_reset_by = excluded.last_reset_by,
		 last_reset_at = excluded.last_reset_at`,
		h.SourceID, h.SampleCount, h.SlowCount, h.SlowRate, h.BackoffLevel,
		encodeTimePtr(h.ExcludedUntil), nullStr(h.LastResetBy), encodeTimePtr(h.LastResetAt))
	if err != nil {
		return fmt.Errorf("upsert source health: %w", err)
	}
	return nil
}

// List returns every known health row.
func (s *HealthStore) List(ctx context.Context) ([]*domain.SourceHealth, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, sample_count, slow_count, slow_rate, backoff_level, excluded_until, last_reset_by, last_reset_at
		 FROM source_health ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("select source health: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*domain.SourceHealth
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHealth(r rowScanner) (*domain.SourceHealth, error) {
	var h domain.SourceHealth
	var excludedUntil, lastResetBy, lastResetAt sql.NullString
	err := r.Scan(&h.SourceID, &h.SampleCount, &h.SlowCount, &h.SlowRate, &h.BackoffLevel,
		&excludedUntil, &lastResetBy, &lastResetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan source health: %w", err)
	}
	h.ExcludedUntil = decodeTimePtr(excludedUntil)
	h.LastResetBy = strOf(lastResetBy)
	h.LastResetAt = decodeTimePtr(lastResetAt)
	return &h, nil
}
