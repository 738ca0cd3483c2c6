package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Client: db}, nil
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	full_name  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS open_attendances (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	start_day   DATE NOT NULL,
	end_day     DATE NOT NULL,
	status_id   INT  NOT NULL,
	time_in_s   TEXT NOT NULL,
	time_out_s  TEXT NOT NULL,
	time_in_c   TEXT NOT NULL,
	time_out_c  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS oncall_schedules (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id        TEXT NOT NULL REFERENCES users(id),
	date           DATE NOT NULL,
	session        TEXT NOT NULL CHECK (session IN ('S', 'C')),
	attendance     BOOLEAN NOT NULL DEFAULT FALSE,
	checkin_time   TIMESTAMPTZ,
	checkout_time  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS face_embeddings (
	user_id     TEXT PRIMARY KEY REFERENCES users(id),
	embedding   vector NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS registration_images (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id),
	data        BYTEA NOT NULL,
	url         TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_open_attendances_days ON open_attendances(start_day, end_day);
CREATE INDEX IF NOT EXISTS idx_oncall_schedules_user_date ON oncall_schedules(user_id, date, session);
CREATE INDEX IF NOT EXISTS idx_registration_images_user ON registration_images(user_id, created_at);
`

// Migrate creates the tables used by the Postgres backend when they are missing.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
