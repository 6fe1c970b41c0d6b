// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// CompanyStore persists registered companies.
type CompanyStore struct {
	db *sql.DB
}

func NewCompanyStore(db *sql.DB) *CompanyStore {
	return &CompanyStore{db: db}
}

func (s *CompanyStore) Create(ctx context.Context, c *domain.Company) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var endpoint sql.NullString
	if c.Endpoint != nil {
		raw, err := json.Marshal(c.Endpoint)
		if err != nil {
			return fmt.Errorf("marshal endpoint: %w", err)
		}
		endpoint = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, type, status, name, company_code, email_verified, endpoint_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, c.Status, c.Name, c.CompanyCode, c.EmailVerified, endpoint, encodeTime(c.CreatedAt))
	if isUniqueViolation(err) {
		return domain.E(domain.CodeAlreadyExists, "", "company code %q already registered", c.CompanyCode)
	}
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *CompanyStore) Get(ctx context.Context, id string) (*domain.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, name, company_code, email_verified, endpoint_json, created_at
		 FROM companies WHERE id = ?`, id)
	return scanCompany(row)
}

// GetMany batch-fetches companies by id; missing ids are skipped.
func (s *CompanyStore) GetMany(ctx context.Context, ids []string) (map[string]*domain.Company, error) {
	out := make(map[string]*domain.Company, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT id, type, status, name, company_code, email_verified, endpoint_json, created_at
		 FROM companies WHERE id IN (?` + repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select companies: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		c, err := scanCompanyRow(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *CompanyStore) ListByType(ctx context.Context, t domain.CompanyType) ([]*domain.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, status, name, company_code, email_verified, endpoint_json, created_at
		 FROM companies WHERE type = ? ORDER BY created_at`, t)
	if err != nil {
		return nil, fmt.Errorf("select companies by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*domain.Company
	for rows.Next() {
		c, err := scanCompanyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CompanyStore) SetStatus(ctx context.Context, id string, status domain.CompanyStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE companies SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update company status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.CodeNotFound, "", "company %s not found", id)
	}
	return nil
}

func (s *CompanyStore) SetEmailVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET email_verified = 1, status = ? WHERE id = ?`, domain.CompanyActive, id)
	if err != nil {
		return fmt.Errorf("verify company: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.CodeNotFound, "", "company %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row *sql.Row) (*domain.Company, error) {
	c, err := scanCompanyRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.CodeNotFound, "", "company not found")
	}
	return c, err
}

func scanCompanyRow(r rowScanner) (*domain.Company, error) {
	var c domain.Company
	var endpoint sql.NullString
	var createdAt string
	if err := r.Scan(&c.ID, &c.Type, &c.Status, &c.Name, &c.CompanyCode, &c.EmailVerified, &endpoint, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan company: %w", err)
	}
	if endpoint.Valid && endpoint.String != "" {
		var ep domain.SourceEndpoint
		if err := json.Unmarshal([]byte(endpoint.String), &ep); err == nil {
			c.Endpoint = &ep
		}
	}
	c.CreatedAt = decodeTime(createdAt)
	return &c, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
