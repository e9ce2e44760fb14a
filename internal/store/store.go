// Package store persists users, conversation threads and the ask log in
// Postgres. Chunks, embeddings and documents live in the external search
// index; nothing in the pipeline core is persisted here beyond the answers
// it already produced.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

type Store struct {
	DB *sql.DB
}

// New opens a connection using the configured Postgres settings.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN opens a connection with an explicit DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Thread represents one conversation over the manuals.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	StateHint string    `json:"state_hint,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread operations
func (s *Store) CreateThread(ctx context.Context, userID, title, stateHint string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO threads (user_id, title, state_hint) VALUES ($1,$2,$3) RETURNING id`,
		userID, title, stateHint).Scan(&id)
	return id, err
}

func (s *Store) ListThreads(ctx context.Context, userID string) ([]Thread, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, title, state_hint, created_at FROM threads WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.StateHint, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetThread(ctx context.Context, id, userID string) (Thread, error) {
	var t Thread
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, title, state_hint, created_at FROM threads WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&t.ID, &t.UserID, &t.Title, &t.StateHint, &t.CreatedAt)
	return t, err
}

func (s *Store) UpdateThreadState(ctx context.Context, id, userID, stateHint string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE threads SET state_hint=$3 WHERE id=$1 AND user_id=$2`, id, userID, stateHint)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteThread(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM threads WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Message operations. History is replayed to the LLM on follow-up
// questions, oldest first.
func (s *Store) AppendMessage(ctx context.Context, threadID, role, content string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO messages (thread_id, role, content) VALUES ($1,$2,$3)`, threadID, role, content)
	return err
}

func (s *Store) ListMessages(ctx context.Context, threadID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT role, content, created_at FROM (
  SELECT role, content, created_at FROM messages WHERE thread_id=$1 ORDER BY created_at DESC LIMIT $2
) recent ORDER BY created_at ASC`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Message
	for rows.Next() {
		var m core.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AskRecord is one logged question/answer pair.
type AskRecord struct {
	ID         string                `json:"id"`
	UserID     string                `json:"user_id"`
	ThreadID   string                `json:"thread_id,omitempty"`
	Question   string                `json:"question"`
	Answer     string                `json:"answer"`
	Citations  []core.Citation       `json:"citations"`
	Images     []core.ImageCandidate `json:"images"`
	Model      string                `json:"model"`
	TokensUsed int64                 `json:"tokens_used"`
	Cost       float64               `json:"cost"`
	LatencyMS  int64                 `json:"latency_ms"`
	CacheHit   bool                  `json:"cache_hit"`
	CreatedAt  time.Time             `json:"created_at"`
}

// RecordAsk logs a completed question with its citations and images as
// JSONB. threadID may be empty for single-shot asks.
func (s *Store) RecordAsk(ctx context.Context, userID, threadID string, res core.AskResult) error {
	cites, err := json.Marshal(res.Response.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	imgs, err := json.Marshal(res.Response.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	var thread interface{}
	if threadID != "" {
		thread = threadID
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO asks (id, user_id, thread_id, question, answer, citations, images, model, tokens_used, cost, latency_ms, cache_hit)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		res.ID, userID, thread, res.Query, res.Response.Text, cites, imgs,
		res.Model, res.TokensUsed, res.Cost, res.Elapsed.Milliseconds(), res.CacheHit)
	return err
}

// RecentAsks returns the user's latest logged asks, newest first.
func (s *Store) RecentAsks(ctx context.Context, userID string, limit int) ([]AskRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, COALESCE(thread_id::text,''), question, answer, citations, images, model, tokens_used, cost, latency_ms, cache_hit, created_at
FROM asks WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AskRecord
	for rows.Next() {
		var (
			r           AskRecord
			cites, imgs []byte
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ThreadID, &r.Question, &r.Answer, &cites, &imgs,
			&r.Model, &r.TokensUsed, &r.Cost, &r.LatencyMS, &r.CacheHit, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(cites, &r.Citations); err != nil {
			return nil, fmt.Errorf("unmarshal citations for %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(imgs, &r.Images); err != nil {
			return nil, fmt.Errorf("unmarshal images for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
