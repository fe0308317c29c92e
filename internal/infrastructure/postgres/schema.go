package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL creates the single `schedules` table and its indexes if they
// are absent. There is no migration framework here — the teacher repo
// never introduces one either; this mirrors the original Python app's
// lifespan-startup `Base.metadata.create_all` with one idempotent DDL
// batch (the table plus its four indexes), sent in a single Exec.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS schedules (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	token             VARCHAR(256) NOT NULL,
	user_id           BIGINT NOT NULL,
	scenario_id       BIGINT NOT NULL,
	type              TEXT NOT NULL CHECK (type IN ('daily', 'interval', 'once')),

	time_hhmm         VARCHAR(5),
	times_hhmm        TEXT,
	timezone          VARCHAR(64),

	every_minutes     INTEGER,

	run_at            TIMESTAMPTZ,

	active            BOOLEAN NOT NULL DEFAULT TRUE,

	next_run_at       TIMESTAMPTZ,
	locked_until      TIMESTAMPTZ,

	last_run_at       TIMESTAMPTZ,
	last_status_code  INTEGER,
	last_error        TEXT,

	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_schedules_token        ON schedules (token);
CREATE INDEX IF NOT EXISTS idx_schedules_user_id       ON schedules (user_id);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run_at   ON schedules (next_run_at);
CREATE INDEX IF NOT EXISTS idx_schedules_locked_until  ON schedules (locked_until);
`

// EnsureSchema creates the schedules table and its indexes if absent.
// Called once at startup by both cmd/server and cmd/worker.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pgcrypto`); err != nil {
		// gen_random_uuid() lives in pgcrypto on older Postgres; 13+ ships it
		// in core, so a permission error here is non-fatal — fall through
		// and let table creation fail loudly if the function is truly absent.
		_ = err
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
