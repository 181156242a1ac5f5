package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_events (
    id TEXT NOT NULL,
    request_id TEXT PRIMARY KEY,
    correlation_id TEXT,
    user_id TEXT NOT NULL,
    conversation_id TEXT,
    model_id TEXT,
    fallback_from TEXT,
    stream BOOLEAN NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    status_code INTEGER NOT NULL,
    code TEXT,
    latency_ms INTEGER NOT NULL,
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_recorded_at ON usage_events(recorded_at);
CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_events(user_id, recorded_at);
`

// SQLiteConfig configures the SQLite usage store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns caps open connections. Default: 4
	MaxOpenConns int

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/usage.db",
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore is the durable usage store.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (and creates if needed) the usage database.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "usage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, newStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteStore{db: db, config: config, logger: logger, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("usage store initialized", "path", config.Path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return newStorageError("sqlite", "enable_wal", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return newStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return newStorageError("sqlite", "create_schema", err)
	}
	return nil
}

// Record implements Store. Duplicate request IDs are ignored.
func (s *SQLiteStore) Record(ctx context.Context, ev *Event) error {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO usage_events (
			id, request_id, correlation_id, user_id, conversation_id, model_id, fallback_from,
			stream, status, status_code, code, latency_ms,
			prompt_tokens, completion_tokens, total_tokens, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ev.RequestID, ev.CorrelationID, ev.UserID, ev.ConversationID, ev.ModelID, ev.FallbackFrom,
		ev.Stream, string(ev.Status), ev.StatusCode, ev.Code, ev.Latency.Milliseconds(),
		ev.PromptTokens, ev.CompletionTokens, ev.TotalTokens, recordedAt.UnixMilli(),
	)
	if err != nil {
		return newStorageError("sqlite", "record", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, requestID string) (*Event, error) {
	var (
		ev         Event
		status     string
		latencyMs  int64
		recordedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, COALESCE(correlation_id, ''), user_id, conversation_id, model_id, fallback_from,
			stream, status, status_code, code, latency_ms,
			prompt_tokens, completion_tokens, total_tokens, recorded_at
		FROM usage_events WHERE request_id = ?`, requestID,
	).Scan(
		&ev.ID, &ev.RequestID, &ev.CorrelationID, &ev.UserID, &ev.ConversationID, &ev.ModelID, &ev.FallbackFrom,
		&ev.Stream, &status, &ev.StatusCode, &ev.Code, &latencyMs,
		&ev.PromptTokens, &ev.CompletionTokens, &ev.TotalTokens, &recordedMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newStorageError("sqlite", "get", err)
	}

	ev.Status = Status(status)
	ev.Latency = time.Duration(latencyMs) * time.Millisecond
	ev.RecordedAt = time.UnixMilli(recordedMs)
	return &ev, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_events`).Scan(&n); err != nil {
		return 0, newStorageError("sqlite", "count", err)
	}
	return n, nil
}

// DeleteBefore implements Store.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_events WHERE recorded_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, newStorageError("sqlite", "delete_before", err)
	}
	return res.RowsAffected()
}

// TrimTo implements Store.
func (s *SQLiteStore) TrimTo(ctx context.Context, keep int64) (int64, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count <= keep {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_events WHERE request_id IN (
			SELECT request_id FROM usage_events
			ORDER BY recorded_at ASC
			LIMIT ?
		)`, count-keep)
	if err != nil {
		return 0, newStorageError("sqlite", "trim", err)
	}
	return res.RowsAffected()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
