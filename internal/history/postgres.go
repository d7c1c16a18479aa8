package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/brownbaglunch/webhook/internal/rebuild"
)

const schema = `
CREATE TABLE IF NOT EXISTS rebuild_runs (
    id               TEXT PRIMARY KEY,
    trigger          TEXT NOT NULL,
    alias            TEXT NOT NULL,
    generation       TEXT NOT NULL DEFAULT '',
    previous         TEXT[] NOT NULL DEFAULT '{}',
    state            TEXT NOT NULL,
    failed_in        TEXT NOT NULL DEFAULT '',
    error            TEXT NOT NULL DEFAULT '',
    error_kind       TEXT NOT NULL DEFAULT '',
    cities           INTEGER NOT NULL DEFAULT 0,
    baggers          INTEGER NOT NULL DEFAULT 0,
    unresolved       INTEGER NOT NULL DEFAULT 0,
    failed_documents INTEGER NOT NULL DEFAULT 0,
    deleted          TEXT[] NOT NULL DEFAULT '{}',
    started_at       TIMESTAMPTZ NOT NULL,
    finished_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS rebuild_runs_started_at_idx ON rebuild_runs (started_at DESC);
`

const upsertRun = `
INSERT INTO rebuild_runs (
    id, trigger, alias, generation, previous, state, failed_in, error, error_kind,
    cities, baggers, unresolved, failed_documents, deleted, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
    generation = EXCLUDED.generation,
    previous = EXCLUDED.previous,
    state = EXCLUDED.state,
    failed_in = EXCLUDED.failed_in,
    error = EXCLUDED.error,
    error_kind = EXCLUDED.error_kind,
    cities = EXCLUDED.cities,
    baggers = EXCLUDED.baggers,
    unresolved = EXCLUDED.unresolved,
    failed_documents = EXCLUDED.failed_documents,
    deleted = EXCLUDED.deleted,
    finished_at = EXCLUDED.finished_at`

const selectRecent = `
SELECT id, trigger, alias, generation, previous, state, failed_in, error, error_kind,
       cities, baggers, unresolved, failed_documents, deleted, started_at, finished_at
FROM rebuild_runs
ORDER BY started_at DESC
LIMIT $1`

// PostgresStore persists one row per run in rebuild_runs.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "history-store"),
	}
}

// Migrate creates the rebuild_runs table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating rebuild_runs table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, run rebuild.Run) error {
	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, upsertRun,
		run.ID, run.Trigger, run.Alias, run.Generation, pq.Array(nonNil(run.Previous)),
		run.State.String(), run.FailedIn, run.Error, run.ErrorKind,
		run.Cities, run.Baggers, run.Unresolved, run.FailedDocuments,
		pq.Array(nonNil(run.Deleted)), run.StartedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	s.logger.Debug("run saved", "run_id", run.ID, "state", run.State.String())
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]rebuild.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []rebuild.Run
	for rows.Next() {
		var (
			run      rebuild.Run
			state    string
			finished sql.NullTime
		)
		if err := rows.Scan(
			&run.ID, &run.Trigger, &run.Alias, &run.Generation, pq.Array(&run.Previous),
			&state, &run.FailedIn, &run.Error, &run.ErrorKind,
			&run.Cities, &run.Baggers, &run.Unresolved, &run.FailedDocuments,
			pq.Array(&run.Deleted), &run.StartedAt, &finished,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if run.State, err = rebuild.ParseState(state); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
