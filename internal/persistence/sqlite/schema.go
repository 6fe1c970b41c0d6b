// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		status         TEXT NOT NULL,
		name           TEXT NOT NULL,
		company_code   TEXT NOT NULL UNIQUE,
		email_verified INTEGER NOT NULL DEFAULT 0,
		endpoint_json  TEXT,
		created_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agreements (
		id            TEXT PRIMARY KEY,
		agent_id      TEXT NOT NULL REFERENCES companies(id),
		source_id     TEXT NOT NULL REFERENCES companies(id),
		agreement_ref TEXT NOT NULL,
		status        TEXT NOT NULL,
		valid_from    TEXT,
		valid_to      TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		UNIQUE (source_id, agreement_ref)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agreements_agent ON agreements(agent_id, status)`,
	`CREATE TABLE IF NOT EXISTS unlocodes (
		code      TEXT PRIMARY KEY,
		country   TEXT NOT NULL,
		place     TEXT NOT NULL,
		iata_code TEXT,
		lat       REAL,
		lon       REAL
	)`,
	`CREATE TABLE IF NOT EXISTS source_locations (
		source_id TEXT NOT NULL REFERENCES companies(id),
		unlocode  TEXT NOT NULL REFERENCES unlocodes(code),
		PRIMARY KEY (source_id, unlocode)
	)`,
	`CREATE TABLE IF NOT EXISTS agreement_location_overrides (
		agreement_id TEXT NOT NULL REFERENCES agreements(id),
		unlocode     TEXT NOT NULL,
		allowed      INTEGER NOT NULL,
		PRIMARY KEY (agreement_id, unlocode)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id                   TEXT PRIMARY KEY,
		agent_id             TEXT NOT NULL,
		source_id            TEXT NOT NULL,
		agreement_ref        TEXT NOT NULL,
		supplier_booking_ref TEXT,
		agent_booking_ref    TEXT,
		idempotency_key      TEXT,
		status               TEXT NOT NULL,
		pickup_unlocode      TEXT,
		dropoff_unlocode     TEXT,
		pickup_iso           TEXT,
		dropoff_iso          TEXT,
		vehicle_class        TEXT,
		make_model           TEXT,
		rate_plan            TEXT,
		driver_age           INTEGER,
		residency_country    TEXT,
		customer_info        TEXT,
		payment_info         TEXT,
		payload_snapshot     TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_supplier_ref ON bookings(supplier_booking_ref, source_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		agent_id     TEXT NOT NULL,
		scope        TEXT NOT NULL,
		key          TEXT NOT NULL,
		response_ref TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		PRIMARY KEY (agent_id, scope, key)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id   TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		before_state TEXT,
		after_state  TEXT,
		changes      TEXT,
		actor        TEXT,
		actor_source TEXT NOT NULL,
		ts           TEXT NOT NULL,
		metadata     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_booking ON booking_history(booking_id, id)`,
	`CREATE TABLE IF NOT EXISTS source_health (
		source_id      TEXT PRIMARY KEY,
		sample_count   INTEGER NOT NULL DEFAULT 0,
		slow_count     INTEGER NOT NULL DEFAULT 0,
		slow_rate      REAL NOT NULL DEFAULT 0,
		backoff_level  INTEGER NOT NULL DEFAULT 0,
		excluded_until TEXT,
		last_reset_by  TEXT,
		last_reset_at  TEXT
	)`,
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate statement %d: %w", i, err)
		}
	}
	return nil
}
