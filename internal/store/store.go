// Package store persists call attempts and session outcomes to Postgres.
// Attempts are append-only; rows are never updated after insert.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elie-eliseai/callzilla/internal/twiml"
)

// maxTranscriptLen bounds stored transcripts. Longer transcripts are
// truncated at insert so a chatty voicemail cannot bloat the table.
const maxTranscriptLen = 1000

// CallAttempt is one placed call and its analysis.
type CallAttempt struct {
	ID              uuid.UUID    `json:"id"`
	SessionID       uuid.UUID    `json:"session_id"`
	PropertyID      string       `json:"property_id"`
	PropertyName    string       `json:"property_name"`
	Phone           string       `json:"phone"`
	CallSID         string       `json:"call_sid"`
	AttemptNumber   int          `json:"attempt_number"`
	Classification  string       `json:"classification"`
	Digit           string       `json:"digit"`
	Plan            []twiml.Step `json:"plan"`
	DisclaimerFound bool         `json:"disclaimer_found"`
	Transcript      string       `json:"transcript"`
	Reasoning       string       `json:"reasoning"`
	RecordingSID    string       `json:"recording_sid"`
	NeedsReview     bool         `json:"needs_review"`
	CreatedAt       time.Time    `json:"created_at"`
}

// CallSession is the terminal record for one phone number.
type CallSession struct {
	ID                  uuid.UUID    `json:"id"`
	PropertyID          string       `json:"property_id"`
	PropertyName        string       `json:"property_name"`
	Phone               string       `json:"phone"`
	Outcome             string       `json:"outcome"`
	FinalClassification string       `json:"final_classification"`
	DisclaimerFound     bool         `json:"disclaimer_found"`
	DisclaimerSnippet   string       `json:"disclaimer_snippet"`
	Plan                []twiml.Step `json:"plan"`
	Attempts            int          `json:"attempts"`
	HumanRetries        int          `json:"human_retries"`
	CreatedAt           time.Time    `json:"created_at"`
	CompletedAt         time.Time    `json:"completed_at"`
}

// Store is the persistence interface consumed by the writer, the API
// server, and the queue worker.
type Store interface {
	InsertAttempts(ctx context.Context, attempts []CallAttempt) error
	InsertSession(ctx context.Context, sess CallSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*CallSession, error)
	ListSessions(ctx context.Context, limit int) ([]CallSession, error)
	ListAttemptsBySession(ctx context.Context, sessionID uuid.UUID) ([]CallAttempt, error)
	ListAttemptsByPhone(ctx context.Context, phone string, limit int) ([]CallAttempt, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS call_attempts (
	id               UUID PRIMARY KEY,
	session_id       UUID NOT NULL,
	property_id      TEXT NOT NULL,
	property_name    TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL,
	call_sid         TEXT NOT NULL,
	attempt_number   INT NOT NULL,
	classification   TEXT NOT NULL,
	digit            TEXT NOT NULL DEFAULT '',
	plan             JSONB NOT NULL DEFAULT '[]',
	disclaimer_found BOOLEAN NOT NULL DEFAULT FALSE,
	transcript       TEXT NOT NULL DEFAULT '',
	reasoning        TEXT NOT NULL DEFAULT '',
	recording_sid    TEXT NOT NULL DEFAULT '',
	needs_review     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_call_attempts_session ON call_attempts (session_id);
CREATE INDEX IF NOT EXISTS idx_call_attempts_phone ON call_attempts (phone, created_at DESC);

CREATE TABLE IF NOT EXISTS call_sessions (
	id                   UUID PRIMARY KEY,
	property_id          TEXT NOT NULL,
	property_name        TEXT NOT NULL DEFAULT '',
	phone                TEXT NOT NULL,
	outcome              TEXT NOT NULL,
	final_classification TEXT NOT NULL DEFAULT '',
	disclaimer_found     BOOLEAN NOT NULL DEFAULT FALSE,
	disclaimer_snippet   TEXT NOT NULL DEFAULT '',
	plan                 JSONB NOT NULL DEFAULT '[]',
	attempts             INT NOT NULL DEFAULT 0,
	human_retries        INT NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL,
	completed_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_sessions_created ON call_sessions (created_at DESC);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertAttempts bulk-inserts attempt rows with COPY.
func (s *PostgresStore) InsertAttempts(ctx context.Context, attempts []CallAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(attempts))
	for _, a := range attempts {
		planJSON, err := json.Marshal(a.Plan)
		if err != nil {
			return fmt.Errorf("marshal plan for attempt %s: %w", a.ID, err)
		}
		rows = append(rows, []any{
			a.ID, a.SessionID, a.PropertyID, a.PropertyName, a.Phone,
			a.CallSID, a.AttemptNumber, a.Classification, a.Digit, planJSON,
			a.DisclaimerFound, truncate(a.Transcript, maxTranscriptLen),
			a.Reasoning, a.RecordingSID, a.NeedsReview, a.CreatedAt,
		})
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"call_attempts"},
		[]string{
			"id", "session_id", "property_id", "property_name", "phone",
			"call_sid", "attempt_number", "classification", "digit", "plan",
			"disclaimer_found", "transcript", "reasoning", "recording_sid",
			"needs_review", "created_at",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy call_attempts: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, sess CallSession) error {
	planJSON, err := json.Marshal(sess.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan for session %s: %w", sess.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_sessions (
			id, property_id, property_name, phone, outcome,
			final_classification, disclaimer_found, disclaimer_snippet,
			plan, attempts, human_retries, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, sess.PropertyID, sess.PropertyName, sess.Phone, sess.Outcome,
		sess.FinalClassification, sess.DisclaimerFound, sess.DisclaimerSnippet,
		planJSON, sess.Attempts, sess.HumanRetries, sess.CreatedAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call_session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*CallSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, property_id, property_name, phone, outcome,
		       final_classification, disclaimer_found, disclaimer_snippet,
		       plan, attempts, human_retries, created_at, completed_at
		FROM call_sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]CallSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, property_id, property_name, phone, outcome,
		       final_classification, disclaimer_found, disclaimer_snippet,
		       plan, attempts, human_retries, created_at, completed_at
		FROM call_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAttemptsBySession(ctx context.Context, sessionID uuid.UUID) ([]CallAttempt, error) {
	rows, err := s.pool.Query(ctx, attemptSelect+`
		WHERE session_id = $1 ORDER BY attempt_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts for session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *PostgresStore) ListAttemptsByPhone(ctx context.Context, phone string, limit int) ([]CallAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, attemptSelect+`
		WHERE phone = $1 ORDER BY created_at DESC LIMIT $2`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts for phone %s: %w", phone, err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

const attemptSelect = `
	SELECT id, session_id, property_id, property_name, phone, call_sid,
	       attempt_number, classification, digit, plan, disclaimer_found,
	       transcript, reasoning, recording_sid, needs_review, created_at
	FROM call_attempts`

func scanAttempts(rows pgx.Rows) ([]CallAttempt, error) {
	var out []CallAttempt
	for rows.Next() {
		var a CallAttempt
		var planJSON []byte
		err := rows.Scan(
			&a.ID, &a.SessionID, &a.PropertyID, &a.PropertyName, &a.Phone,
			&a.CallSID, &a.AttemptNumber, &a.Classification, &a.Digit, &planJSON,
			&a.DisclaimerFound, &a.Transcript, &a.Reasoning, &a.RecordingSID,
			&a.NeedsReview, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if err := json.Unmarshal(planJSON, &a.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*CallSession, error) {
	var sess CallSession
	var planJSON []byte
	err := row.Scan(
		&sess.ID, &sess.PropertyID, &sess.PropertyName, &sess.Phone,
		&sess.Outcome, &sess.FinalClassification, &sess.DisclaimerFound,
		&sess.DisclaimerSnippet, &planJSON, &sess.Attempts,
		&sess.HumanRetries, &sess.CreatedAt, &sess.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(planJSON, &sess.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &sess, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
