package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a SQLite file.
// It is suitable for single-instance deployments where admission state
// (open circuits, live idempotency claims) should survive a restart.
//
// The database is opened with a single connection, so every operation runs
// in its own serialized transaction. Expired rows are ignored on read and
// purged periodically.
type SQLiteStore struct {
	db        *sql.DB
	now       Clock
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	cleanupInterval time.Duration
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CleanupInterval is how often expired rows are deleted.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Clock overrides time.Now. Intended for tests.
	Clock Clock
}

// NewSQLiteStore creates a SQLite store with default settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig creates a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:              db,
		now:             cfg.Clock,
		done:            make(chan struct{}),
		cleanupInterval: cfg.CleanupInterval,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go s.cleanupLoop()

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS admission_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_admission_state_expires ON admission_state(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// nowMillis returns the store clock in unix milliseconds.
func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLiteStore) expiresAt(ttl time.Duration) int64 {
	ms := ttlMillis(ttl)
	if ms == 0 {
		return 0
	}
	return s.nowMillis() + ms
}

func (s *SQLiteStore) remainingFrom(expiresAt int64) time.Duration {
	if expiresAt == 0 {
		return NoExpiry
	}
	return time.Duration(expiresAt-s.nowMillis()) * time.Millisecond
}

// readLive loads a non-expired row inside tx.
func (s *SQLiteStore) readLive(ctx context.Context, tx *sql.Tx, key string) (value string, expiresAt int64, found bool, err error) {
	row := tx.QueryRowContext(ctx,
		`SELECT value, expires_at FROM admission_state WHERE key = ?`, key)
	if err = row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	if expiresAt != 0 && expiresAt <= s.nowMillis() {
		return "", 0, false, nil
	}
	return value, expiresAt, true, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Incr implements Store.
func (s *SQLiteStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	var count int64
	var left time.Duration

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		value, expiresAt, found, err := s.readLive(ctx, tx, key)
		if err != nil {
			return err
		}

		if !found {
			count = 1
			expiresAt = s.expiresAt(ttl)
		} else {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("value at %q is not an integer", key)
			}
			count = n + 1
		}
		left = s.remainingFrom(expiresAt)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO admission_state (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			key, strconv.FormatInt(count, 10), expiresAt)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return count, left, nil
}

// Decr implements Store.
func (s *SQLiteStore) Decr(ctx context.Context, key string) (int64, error) {
	var count int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		value, _, found, err := s.readLive(ctx, tx, key)
		if err != nil || !found {
			return err
		}

		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("value at %q is not an integer", key)
		}
		count = n - 1
		if count <= 0 {
			count = 0
			_, err = tx.ExecContext(ctx, `DELETE FROM admission_state WHERE key = ?`, key)
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE admission_state SET value = ? WHERE key = ?`,
			strconv.FormatInt(count, 10), key)
		return err
	})
	return count, err
}

// SetNX implements Store.
func (s *SQLiteStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var stored bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, _, found, err := s.readLive(ctx, tx, key)
		if err != nil || found {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO admission_state (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			key, value, s.expiresAt(ttl))
		stored = err == nil
		return err
	})
	return stored, err
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO admission_state (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			key, value, s.expiresAt(ttl))
		return err
	})
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		value, _, found, err = s.readLive(ctx, tx, key)
		return err
	})
	return value, found, err
}

// Expire implements Store.
func (s *SQLiteStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, _, found, err := s.readLive(ctx, tx, key)
		if err != nil || !found {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE admission_state SET expires_at = ? WHERE key = ?`,
			s.expiresAt(ttl), key)
		return err
	})
}

// TTL implements Store.
func (s *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var left time.Duration

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, expiresAt, found, err := s.readLive(ctx, tx, key)
		if err != nil || !found {
			return err
		}
		left = s.remainingFrom(expiresAt)
		return nil
	})
	return left, err
}

// Del implements Store.
func (s *SQLiteStore) Del(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM admission_state WHERE key = ?`, key)
		return err
	})
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close stops the cleanup goroutine and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.purgeExpired(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				slog.Warn("failed to purge expired admission state", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// purgeExpired deletes expired rows and returns how many were removed.
func (s *SQLiteStore) purgeExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM admission_state WHERE expires_at != 0 AND expires_at <= ?`, s.nowMillis())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}
