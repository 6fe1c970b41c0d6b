// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// AgreementStore persists agreements and their location overrides.
type AgreementStore struct {
	db *sql.DB
}

func NewAgreementStore(db *sql.DB) *AgreementStore {
	return &AgreementStore{db: db}
}

const agreementCols = `id, agent_id, source_id, agreement_ref, status, valid_from, valid_to, created_at, updated_at`

func (s *AgreementStore) Create(ctx context.Context, a *domain.Agreement) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agreements (`+agreementCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, a.SourceID, a.AgreementRef, a.Status,
		encodeTimePtr(a.ValidFrom), encodeTimePtr(a.ValidTo),
		encodeTime(a.CreatedAt), encodeTime(a.UpdatedAt))
	if isUniqueViolation(err) {
		return domain.E(domain.CodeAlreadyExists, "", "agreement ref %q already exists for source %s", a.AgreementRef, a.SourceID)
	}
	if err != nil {
		return fmt.Errorf("insert agreement: %w", err)
	}
	return nil
}

func (s *AgreementStore) Get(ctx context.Context, id string) (*domain.Agreement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agreementCols+` FROM agreements WHERE id = ?`, id)
	a, err := scanAgreement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.CodeNotFound, "", "agreement %s not found", id)
	}
	return a, err
}

// FindActive resolves the agreement permitting (agentId, sourceId, agreementRef),
// or NOT_FOUND when no such row is ACTIVE.
func (s *AgreementStore) FindActive(ctx context.Context, agentID, sourceID, agreementRef string) (*domain.Agreement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agreementCols+` FROM agreements
		 WHERE agent_id = ? AND source_id = ? AND agreement_ref = ? AND status = ?`,
		agentID, sourceID, agreementRef, domain.AgreementActive)
	a, err := scanAgreement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.CodeNotFound, "", "no active agreement %s for agent %s with source %s", agreementRef, agentID, sourceID)
	}
	return a, err
}

// ListByAgent returns agreements of one agent, optionally filtered by status.
func (s *AgreementStore) ListByAgent(ctx context.Context, agentID string, status domain.AgreementStatus) ([]*domain.Agreement, error) {
	return s.list(ctx, `agent_id`, agentID, status)
}

// ListBySource returns agreements of one source, optionally filtered by status.
func (s *AgreementStore) ListBySource(ctx context.Context, sourceID string, status domain.AgreementStatus) ([]*domain.Agreement, error) {
	return s.list(ctx, `source_id`, sourceID, status)
}

func (s *AgreementStore) list(ctx context.Context, col, id string, status domain.AgreementStatus) ([]*domain.Agreement, error) {
	query := `SELECT ` + agreementCols + ` FROM agreements WHERE ` + col + ` = ?`
	args := []any{id}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select agreements: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateStatusIf transitions id from one of the expected statuses to next,
// atomically. It reports FAILED_PRECONDITION when the current status does not
// permit the transition.
func (s *AgreementStore) UpdateStatusIf(ctx context.Context, id string, expected []domain.AgreementStatus, next domain.AgreementStatus) error {
	if len(expected) == 0 {
		return domain.E(domain.CodeInternal, "", "empty expected status set")
	}
	query := `UPDATE agreements SET status = ?, updated_at = ? WHERE id = ? AND status IN (?` + repeat(",?", len(expected)-1) + `)`
	args := []any{next, encodeTime(time.Now().UTC()), id}
	for _, st := range expected {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update agreement status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish unknown id from illegal transition.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return domain.E(domain.CodeFailedPrecondition, domain.ReasonIllegalTransition,
			"agreement %s cannot transition to %s", id, next)
	}
	return nil
}

// UpsertOverride records or replaces an (agreementId, unlocode) override.
func (s *AgreementStore) UpsertOverride(ctx context.Context, agreementID, unlocode string, allowed bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agreement_location_overrides (agreement_id, unlocode, allowed) VALUES (?, ?, ?)
		 ON CONFLICT (agreement_id, unlocode) DO UPDATE SET allowed = excluded.allowed`,
		agreementID, unlocode, allowed)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

// RemoveOverride deletes an override, restoring baseline coverage for the code.
func (s *AgreementStore) RemoveOverride(ctx context.Context, agreementID, unlocode string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agreement_location_overrides WHERE agreement_id = ? AND unlocode = ?`,
		agreementID, unlocode)
	if err != nil {
		return fmt.Errorf("remove override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.CodeNotFound, "", "no override for (%s, %s)", agreementID, unlocode)
	}
	return nil
}

// Overrides returns the override map for an agreement: unlocode -> allowed.
func (s *AgreementStore) Overrides(ctx context.Context, agreementID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unlocode, allowed FROM agreement_location_overrides WHERE agreement_id = ?`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("select overrides: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]bool)
	for rows.Next() {
		var code string
		var allowed bool
		if err := rows.Scan(&code, &allowed); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out[code] = allowed
	}
	return out, rows.Err()
}

func scanAgreement(r rowScanner) (*domain.Agreement, error) {
	var a domain.Agreement
	var validFrom, validTo sql.NullString
	var createdAt, updatedAt string
	err := r.Scan(&a.ID, &a.AgentID, &a.SourceID, &a.AgreementRef, &a.Status,
		&validFrom, &validTo, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan agreement: %w", err)
	}
	a.ValidFrom = decodeTimePtr(validFrom)
	a.ValidTo = decodeTimePtr(validTo)
	a.CreatedAt = decodeTime(createdAt)
	a.UpdatedAt = decodeTime(updatedAt)
	return &a, nil
}
