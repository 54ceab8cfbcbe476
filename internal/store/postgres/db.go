package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool shared by the event log and visitor stores.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect builds a pooled connection from a DSN.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db != nil && db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping ensures the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	return db.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

// EnsureSchema creates the events and unique_users tables if they do not
// exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  id            BIGSERIAL PRIMARY KEY,
  event_type    TEXT NOT NULL DEFAULT 'PageView',
  host          TEXT,
  path          TEXT,
  full_url      TEXT,
  referrer      TEXT,
  ua            TEXT,
  ip_address    TEXT,
  device_type   TEXT,
  ts            BIGINT,
  product_data  JSONB,
  value         NUMERIC(10,2),
  currency      TEXT,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_event_type ON events (event_type);
CREATE INDEX IF NOT EXISTS idx_events_ip_address ON events (ip_address);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events (ts);

CREATE TABLE IF NOT EXISTS unique_users (
  id            BIGSERIAL PRIMARY KEY,
  ip_address    TEXT NOT NULL,
  device_type   TEXT NOT NULL,
  user_agent    TEXT,
  country       TEXT,
  region        TEXT,
  city          TEXT,
  district      TEXT,
  latitude      NUMERIC(10,8),
  longitude     NUMERIC(11,8),
  first_seen    TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_seen     TIMESTAMPTZ NOT NULL DEFAULT now(),
  visit_count   INTEGER NOT NULL DEFAULT 1,
  UNIQUE (ip_address, device_type)
);
CREATE INDEX IF NOT EXISTS idx_unique_users_ip ON unique_users (ip_address);
CREATE INDEX IF NOT EXISTS idx_unique_users_last_seen ON unique_users (last_seen);
`
	_, err := db.Pool.Exec(ctx, ddl)
	return err
}

// nullable converts the empty string to NULL so absent request fields never
// persist as "".
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
