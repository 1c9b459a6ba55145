package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bridge_sessions (
	id          UUID PRIMARY KEY,
	machine     TEXT NOT NULL,
	game        TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ,
	end_reason  TEXT
);
CREATE INDEX IF NOT EXISTS bridge_sessions_started_at ON bridge_sessions (started_at DESC);

CREATE TABLE IF NOT EXISTS bridge_start_failures (
	id          BIGSERIAL PRIMARY KEY,
	machine     TEXT NOT NULL,
	cause       TEXT NOT NULL,
	elapsed_ms  BIGINT NOT NULL,
	failed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Journal writes session history to Postgres. It implements
// bridge.Journal.
type Journal struct {
	client  *PostgresClient
	timeout time.Duration
	logger  *zap.Logger
}

var _ bridge.Journal = (*Journal)(nil)

func NewJournal(client *PostgresClient, logger *zap.Logger) *Journal {
	return &Journal{client: client, timeout: 2 * time.Second, logger: logger}
}

// EnsureSchema creates the journal tables if they are missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.client.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	j.logger.Info("Session journal ready")
	return nil
}

func (j *Journal) SessionStarted(ctx context.Context, s bridge.Session) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	_, err := j.client.pool.Exec(ctx, `
		INSERT INTO bridge_sessions (id, machine, game, started_at)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.Machine, s.Game, s.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (j *Journal) SessionEnded(ctx context.Context, s bridge.Session, reason string, endedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	tag, err := j.client.pool.Exec(ctx, `
		UPDATE bridge_sessions SET ended_at = $2, end_reason = $3
		WHERE id = $1 AND ended_at IS NULL
	`, s.ID, endedAt, reason)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		j.logger.Warn("Closing unknown session", zap.String("session", s.ID.String()))
	}
	return nil
}

func (j *Journal) StartFailed(ctx context.Context, machine string, cause error, elapsed time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	_, err := j.client.pool.Exec(ctx, `
		INSERT INTO bridge_start_failures (machine, cause, elapsed_ms)
		VALUES ($1, $2, $3)
	`, machine, cause.Error(), elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert start failure: %w", err)
	}
	return nil
}

// RecentSessions returns the newest sessions first.
func (j *Journal) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := j.client.pool.Query(ctx, `
		SELECT id, machine, game, started_at, ended_at, end_reason
		FROM bridge_sessions
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SessionRecord, error) {
		var r SessionRecord
		err := row.Scan(&r.ID, &r.Machine, &r.Game, &r.StartedAt, &r.EndedAt, &r.EndReason)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return records, nil
}

// RecentFailures returns the newest start failures first.
func (j *Journal) RecentFailures(ctx context.Context, limit int) ([]StartFailure, error) {
	rows, err := j.client.pool.Query(ctx, `
		SELECT id, machine, cause, elapsed_ms, failed_at
		FROM bridge_start_failures
		ORDER BY failed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query start failures: %w", err)
	}
	failures, err := pgx.CollectRows(rows, pgx.RowToStructByPos[StartFailure])
	if err != nil {
		return nil, fmt.Errorf("failed to scan start failures: %w", err)
	}
	return failures, nil
}
