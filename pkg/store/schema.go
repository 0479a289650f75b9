package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects placeholder style and minor DDL differences.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Aggregates persist as JSON documents beside the columns the queries
// filter on. The document is authoritative; columns are projections.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id      TEXT PRIMARY KEY,
		mrn     TEXT NOT NULL,
		dob     TEXT NOT NULL,
		version BIGINT NOT NULL,
		doc     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patients_mrn ON patients (mrn, dob)`,

	`CREATE TABLE IF NOT EXISTS drugs (
		ndc TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS prescriptions (
		id           TEXT PRIMARY KEY,
		patient_id   TEXT NOT NULL,
		rx_number    TEXT NOT NULL,
		state        TEXT NOT NULL,
		written_date TEXT NOT NULL,
		version      BIGINT NOT NULL,
		doc          TEXT NOT NULL,
		UNIQUE (patient_id, rx_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rx_patient ON prescriptions (patient_id)`,

	`CREATE TABLE IF NOT EXISTS fills (
		id          TEXT PRIMARY KEY,
		rx_id       TEXT NOT NULL,
		fill_number INTEGER NOT NULL,
		version     BIGINT NOT NULL,
		doc         TEXT NOT NULL,
		UNIQUE (rx_id, fill_number)
	)`,

	`CREATE TABLE IF NOT EXISTS claims (
		id         TEXT PRIMARY KEY,
		fill_id    TEXT,
		state      TEXT NOT NULL,
		attempt_no INTEGER NOT NULL,
		version    BIGINT NOT NULL,
		doc        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_fill ON claims (fill_id)`,

	`CREATE TABLE IF NOT EXISTS verification_sessions (
		id       TEXT PRIMARY KEY,
		fill_id  TEXT NOT NULL,
		terminal INTEGER NOT NULL,
		version  BIGINT NOT NULL,
		doc      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_fill ON verification_sessions (fill_id, terminal)`,

	`CREATE TABLE IF NOT EXISTS pdmp_results (
		query_id TEXT PRIMARY KEY,
		version  BIGINT NOT NULL,
		doc      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_transactions (
		id              TEXT PRIMARY KEY,
		pharmacy_id     TEXT NOT NULL,
		ndc             TEXT NOT NULL,
		txn_type        TEXT NOT NULL,
		delta           REAL NOT NULL,
		running_balance REAL NOT NULL,
		reference       TEXT,
		actor_id        TEXT NOT NULL,
		witness_id      TEXT,
		at              TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		doc             TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invtx_item ON inventory_transactions (pharmacy_id, ndc, seq)`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		id          TEXT PRIMARY KEY,
		actor_id    TEXT NOT NULL,
		action      TEXT NOT NULL,
		resource    TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		phi_touch   INTEGER NOT NULL,
		at          TEXT NOT NULL,
		doc         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_stream ON audit_entries (resource, resource_id, at)`,
}

// Migrate applies the schema. Statements are idempotent; reruns are
// safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration %d: %w", i, err)
		}
	}
	return nil
}
