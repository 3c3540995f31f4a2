package database

import "fmt"

// schema is the single source of truth for the trackfolio database layout.
// All money columns are stored as TEXT holding fixed-point decimal strings;
// timestamps are stored as Unix seconds.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL UNIQUE,
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	cash        TEXT NOT NULL DEFAULT '0.00',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id),
	operation   TEXT NOT NULL CHECK(operation IN ('buy','sell')),
	ticker      TEXT NOT NULL,
	price       TEXT NOT NULL,
	shares      INTEGER NOT NULL CHECK(shares > 0),
	executed_at INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_created
	ON transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_user_ticker
	ON transactions(user_id, ticker);
CREATE INDEX IF NOT EXISTS idx_transactions_user_executed
	ON transactions(user_id, executed_at DESC);

CREATE TABLE IF NOT EXISTS holdings (
	user_id        TEXT NOT NULL REFERENCES users(id),
	ticker         TEXT NOT NULL,
	total_shares   INTEGER NOT NULL DEFAULT 0,
	average_price  TEXT NOT NULL DEFAULT '0.00',
	total_spent    TEXT NOT NULL DEFAULT '0.00',
	total_value    TEXT NOT NULL DEFAULT '0.00',
	last_price     TEXT NOT NULL DEFAULT '0.00',
	stop_loss      TEXT NOT NULL DEFAULT '0.00',
	entry_reason   TEXT NOT NULL DEFAULT '',
	last_synced_at INTEGER,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (user_id, ticker)
);
`

// Migrate applies the database schema. All statements are idempotent
// (CREATE IF NOT EXISTS) so this is safe to run on every startup.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema for %s: %w", db.name, err)
	}
	return nil
}
