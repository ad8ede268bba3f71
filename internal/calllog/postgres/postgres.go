// Package postgres provides a PostgreSQL-backed [calllog.Store].
//
// All queries share one [pgxpool.Pool]. [Migrate] creates the call_logs and
// call_transcripts tables if they do not exist.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicebridge/internal/calllog"
)

// Compile-time interface assertion.
var _ calllog.Store = (*Store)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlCallLogs = `
CREATE TABLE IF NOT EXISTS call_logs (
    session_id       TEXT         PRIMARY KEY,
    assistant_id     TEXT         NOT NULL,
    organization_id  TEXT         NOT NULL DEFAULT '',
    direction        TEXT         NOT NULL DEFAULT 'web',
    status           TEXT         NOT NULL,
    started_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at         TIMESTAMPTZ,
    duration_seconds BIGINT       NOT NULL DEFAULT 0,
    cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_call_logs_assistant_started
    ON call_logs (assistant_id, started_at);
`

const ddlCallTranscripts = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker     TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_session_timestamp
    ON call_transcripts (session_id, timestamp);
`

// Migrate creates every table the store needs. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCallLogs, ddlCallTranscripts} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("calllog postgres: migrate: %w", err)
		}
	}
	return nil
}

// Store is the PostgreSQL call log store. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping implements [calllog.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// StartCall implements [calllog.Store].
func (s *Store) StartCall(ctx context.Context, c calllog.Call) error {
	const q = `
		INSERT INTO call_logs
		    (session_id, assistant_id, organization_id, direction, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	direction := c.Direction
	if direction == "" {
		direction = calllog.DirectionWeb
	}
	_, err := s.pool.Exec(ctx, q,
		c.SessionID,
		c.AssistantID,
		c.OrganizationID,
		direction,
		string(calllog.StatusInitiated),
		c.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("calllog postgres: start call: %w", err)
	}
	return nil
}

// EndCall implements [calllog.Store].
func (s *Store) EndCall(ctx context.Context, sessionID string, e calllog.End) error {
	const q = `
		UPDATE call_logs
		SET    status = $2, ended_at = $3, duration_seconds = $4, cost_usd = $5
		WHERE  session_id = $1`

	tag, err := s.pool.Exec(ctx, q,
		sessionID,
		string(e.Status),
		e.EndedAt,
		int64(e.Duration/time.Second),
		e.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("calllog postgres: end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("calllog postgres: end call %q: %w", sessionID, calllog.ErrNotFound)
	}
	return nil
}

// GetCall implements [calllog.Store].
func (s *Store) GetCall(ctx context.Context, sessionID string) (calllog.Call, error) {
	const q = `
		SELECT session_id, assistant_id, organization_id, direction, status,
		       started_at, ended_at, duration_seconds, cost_usd
		FROM   call_logs
		WHERE  session_id = $1`

	var (
		c       calllog.Call
		status  string
		endedAt *time.Time
		secs    int64
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&c.SessionID, &c.AssistantID, &c.OrganizationID, &c.Direction, &status,
		&c.StartedAt, &endedAt, &secs, &c.CostUSD,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return calllog.Call{}, fmt.Errorf("calllog postgres: get call %q: %w", sessionID, calllog.ErrNotFound)
	}
	if err != nil {
		return calllog.Call{}, fmt.Errorf("calllog postgres: get call: %w", err)
	}
	c.Status = calllog.Status(status)
	if endedAt != nil {
		c.EndedAt = *endedAt
	}
	c.Duration = time.Duration(secs) * time.Second
	return c, nil
}

// WriteTranscript implements [calllog.Store].
func (s *Store) WriteTranscript(ctx context.Context, e calllog.TranscriptEntry) error {
	const q = `
		INSERT INTO call_transcripts (session_id, speaker, text, timestamp)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, e.SessionID, e.Speaker, e.Text, e.Timestamp); err != nil {
		return fmt.Errorf("calllog postgres: write transcript: %w", err)
	}
	return nil
}

// Transcript implements [calllog.Store].
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]calllog.TranscriptEntry, error) {
	const q = `
		SELECT session_id, speaker, text, timestamp
		FROM   call_transcripts
		WHERE  session_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: transcript: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (calllog.TranscriptEntry, error) {
		var e calllog.TranscriptEntry
		err := row.Scan(&e.SessionID, &e.Speaker, &e.Text, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: scan transcript: %w", err)
	}
	return entries, nil
}
