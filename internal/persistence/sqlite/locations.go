// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// LocationStore persists the UN/LOCODE dictionary and per-source coverage rows.
type LocationStore struct {
	db *sql.DB
}

func NewLocationStore(db *sql.DB) *LocationStore {
	return &LocationStore{db: db}
}

// UpsertUNLocodes loads dictionary rows; used by the seed step only.
func (s *LocationStore) UpsertUNLocodes(ctx context.Context, rows []domain.UNLocode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO unlocodes (code, country, place, iata_code, lat, lon) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET country = excluded.country, place = excluded.place,
		 iata_code = excluded.iata_code, lat = excluded.lat, lon = excluded.lon`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range rows {
		if _, err := stmt.ExecContext(ctx, u.Code, u.Country, u.Place, nullStr(u.IATACode), u.Lat, u.Lon); err != nil {
			return fmt.Errorf("upsert unlocode %s: %w", u.Code, err)
		}
	}
	return tx.Commit()
}

// ListUNLocodes lists dictionary rows, optionally filtered by country code
// and a case-insensitive place substring.
func (s *LocationStore) ListUNLocodes(ctx context.Context, country, query string, limit int) ([]domain.UNLocode, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	q := `SELECT code, country, place, iata_code, lat, lon FROM unlocodes WHERE 1=1`
	args := []any{}
	if country != "" {
		q += ` AND country = ?`
		args = append(args, country)
	}
	if query != "" {
		q += ` AND (place LIKE ? OR code LIKE ?)`
		like := "%" + query + "%"
		args = append(args, like, like)
	}
	q += ` ORDER BY code LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select unlocodes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.UNLocode
	for rows.Next() {
		var u domain.UNLocode
		var iata sql.NullString
		if err := rows.Scan(&u.Code, &u.Country, &u.Place, &iata, &u.Lat, &u.Lon); err != nil {
			return nil, fmt.Errorf("scan unlocode: %w", err)
		}
		u.IATACode = strOf(iata)
		out = append(out, u)
	}
	return out, rows.Err()
}

// KnownCodes returns the set of dictionary codes among the given candidates.
func (s *LocationStore) KnownCodes(ctx context.Context, candidates []string) (map[string]bool, error) {
	out := make(map[string]bool, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	q := `SELECT code FROM unlocodes WHERE code IN (?` + repeat(",?", len(candidates)-1) + `)`
	args := make([]any, len(candidates))
	for i, c := range candidates {
		args[i] = c
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select known codes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out[code] = true
	}
	return out, rows.Err()
}

// AllCodes returns every dictionary code. Used by the coverage list fallback.
func (s *LocationStore) AllCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM unlocodes ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("select all codes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// SourceLocations returns the declared coverage set of a source.
func (s *LocationStore) SourceLocations(ctx context.Context, sourceID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unlocode FROM source_locations WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("select source locations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out[code] = true
	}
	return out, rows.Err()
}

// SyncResult summarises a coverage sync.
type SyncResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
	Unknown int `json:"unknown"` // reported codes absent from the dictionary
}

// ReplaceSourceLocations reconciles the declared coverage of a source against
// the codes freshly reported by its adapter: reported-and-known codes are
// inserted, rows no longer reported are removed.
func (s *LocationStore) ReplaceSourceLocations(ctx context.Context, sourceID string, reported []string) (*SyncResult, error) {
	known, err := s.KnownCodes(ctx, reported)
	if err != nil {
		return nil, err
	}
	current, err := s.SourceLocations(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{Unknown: len(reported) - len(known)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for code := range known {
		if current[code] {
			res.Kept++
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_locations (source_id, unlocode) VALUES (?, ?)`, sourceID, code); err != nil {
			return nil, fmt.Errorf("insert source location %s: %w", code, err)
		}
		res.Added++
	}
	for code := range current {
		if known[code] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM source_locations WHERE source_id = ? AND unlocode = ?`, sourceID, code); err != nil {
			return nil, fmt.Errorf("delete source location %s: %w", code, err)
		}
		res.Removed++
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}
