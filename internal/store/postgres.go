// Package store persists conversation turns.
//
// The canonical backend is PostgreSQL via pgx. [Memory] offers the same
// journal surface without a database for development and tests.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hibiki-voice/hibiki/internal/dialogue"
)

// Schema is the SQL DDL for the conversation_turns table. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    epoch       BIGINT NOT NULL DEFAULT 0,
    role        TEXT NOT NULL,
    text        TEXT NOT NULL,
    interrupted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns(session_id, id);
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres journals conversation turns in a PostgreSQL table.
type Postgres struct {
	db DB
}

var _ dialogue.Journal = (*Postgres)(nil)

// NewPostgres creates a journal over the given connection or pool. The
// caller is responsible for calling [Postgres.Migrate] before use.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate executes the [Schema] DDL, creating the table and index if they do
// not already exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// RecordTurn appends one turn.
func (s *Postgres) RecordTurn(ctx context.Context, turn dialogue.Turn) error {
	const query = `
		INSERT INTO conversation_turns (session_id, epoch, role, text, interrupted, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(ctx, query,
		turn.SessionID, turn.Epoch, turn.Role, turn.Text, turn.Interrupted, createdAt)
	if err != nil {
		return fmt.Errorf("store: record turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns for the session, oldest first.
func (s *Postgres) RecentTurns(ctx context.Context, sessionID string, limit int) ([]dialogue.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT session_id, epoch, role, text, interrupted, created_at
		FROM (
			SELECT id, session_id, epoch, role, text, interrupted, created_at
			FROM conversation_turns
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) latest
		ORDER BY id ASC`

	rows, err := s.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query turns: %w", err)
	}
	defer rows.Close()

	var turns []dialogue.Turn
	for rows.Next() {
		var t dialogue.Turn
		if err := rows.Scan(&t.SessionID, &t.Epoch, &t.Role, &t.Text, &t.Interrupted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate turns: %w", err)
	}
	return turns, nil
}
