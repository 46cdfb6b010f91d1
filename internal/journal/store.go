// Package journal keeps an append-only log of handled events in SQLite. The
// router never reads it; it exists for operators (the journal command) and
// is pruned on a schedule.
package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusIgnored = "ignored"
)

// Entry is one handled event.
type Entry struct {
	ID        string
	Channel   string
	ChatID    string
	MessageID int
	Kind      string
	Route     string
	Status    string
	Error     string
	Latency   time.Duration
	CreatedAt time.Time
}

type row struct {
	ID        string `db:"id"`
	Channel   string `db:"channel"`
	ChatID    string `db:"chat_id"`
	MessageID int    `db:"message_id"`
	Kind      string `db:"kind"`
	Route     string `db:"route"`
	Status    string `db:"status"`
	Error     string `db:"error"`
	LatencyMS int64  `db:"latency_ms"`
	CreatedAt int64  `db:"created_at"` // unix milliseconds
}

func (r row) entry() Entry {
	return Entry{
		ID:        r.ID,
		Channel:   r.Channel,
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		Kind:      r.Kind,
		Route:     r.Route,
		Status:    r.Status,
		Error:     r.Error,
		Latency:   time.Duration(r.LatencyMS) * time.Millisecond,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

// Store is a sqlx-backed journal.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to (and if needed creates) the journal database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Connect("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, logger: logger.With("component", "journal")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	s.logger.Debug("journal opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		channel     TEXT NOT NULL,
		chat_id     TEXT NOT NULL,
		message_id  INTEGER NOT NULL DEFAULT 0,
		kind        TEXT NOT NULL,
		route       TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		latency_ms  INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	`)
	return err
}

// Record appends e. Missing ID and CreatedAt are filled in.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (id, channel, chat_id, message_id, kind, route, status, error, latency_ms, created_at)
		VALUES (:id, :channel, :chat_id, :message_id, :kind, :route, :status, :error, :latency_ms, :created_at)`,
		row{
			ID:        e.ID,
			Channel:   e.Channel,
			ChatID:    e.ChatID,
			MessageID: e.MessageID,
			Kind:      e.Kind,
			Route:     e.Route,
			Status:    e.Status,
			Error:     e.Error,
			LatencyMS: e.Latency.Milliseconds(),
			CreatedAt: e.CreatedAt.UnixMilli(),
		})
	if err != nil {
		return fmt.Errorf("record event %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, channel, chat_id, message_id, kind, route, status, error, latency_ms, created_at
		FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

// Prune deletes entries created before the cutoff and reports how many.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
