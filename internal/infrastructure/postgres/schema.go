package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drfirst/go-tdm/pkg/idempotency"
)

// DB is the subset of pgxpool.Pool used by this package.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the run, request result and outbox tables.
const Schema = `
CREATE TABLE IF NOT EXISTS tdm_runs (
	run_id      TEXT PRIMARY KEY,
	query_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	total       INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	files       TEXT[],
	event       JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tdm_runs_query_id_idx ON tdm_runs (query_id);

CREATE TABLE IF NOT EXISTS tdm_request_results (
	run_id          TEXT NOT NULL REFERENCES tdm_runs (run_id) ON DELETE CASCADE,
	request_id      TEXT NOT NULL,
	drug_id         TEXT NOT NULL,
	drug_model_id   TEXT,
	succeeded       BOOLEAN NOT NULL,
	failed_stage    TEXT,
	error_kind      TEXT,
	error_message   TEXT,
	adjustment_time TIMESTAMPTZ,
	candidates      INTEGER NOT NULL DEFAULT 0,
	warnings        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, request_id)
);

CREATE TABLE IF NOT EXISTS outbox (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_id   TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	kafka_topic    TEXT NOT NULL,
	kafka_key      TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (created_at) WHERE processed_at IS NULL;
`

// Migrate creates every table used by the services. It is idempotent.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range []string{Schema, idempotency.Schema} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
