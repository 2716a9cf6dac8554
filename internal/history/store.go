package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skypro1111/voicecap/internal/config"
)

// createdLayout is fixed width so created_at sorts chronologically as text.
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded capture cycle.
type Entry struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	DurationSeconds float64   `json:"duration_seconds"`
	Outcome         string    `json:"outcome"`
	Transcript      string    `json:"transcript,omitempty"`
	Message         string    `json:"message,omitempty"`
	LatencyMS       int64     `json:"latency_ms"`
	ArchiveKey      string    `json:"archive_key,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store is a SQLite-backed log of capture cycles.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open creates the database file if needed, applies the schema and prunes
// entries beyond the configured limit.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("History prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    duration_seconds REAL NOT NULL,
    outcome TEXT NOT NULL,
    transcript TEXT,
    message TEXT,
    latency_ms INTEGER NOT NULL,
    archive_key TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_created ON cycles(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes an entry, filling in ID and CreatedAt when unset, and
// returns the stored ID.
func (s *Store) Append(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(id, filename, duration_seconds, outcome, transcript, message, latency_ms, archive_key, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Filename, e.DurationSeconds, e.Outcome, e.Transcript, e.Message, e.LatencyMS, e.ArchiveKey,
		e.CreatedAt.UTC().Format(createdLayout))
	if err != nil {
		return "", fmt.Errorf("insert cycle: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warn("History prune failed", slog.String("error", err.Error()))
	}
	return e.ID, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, duration_seconds, outcome, transcript, message, latency_ms, archive_key, created_at
		 FROM cycles ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var transcript, message, archiveKey sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.Filename, &e.DurationSeconds, &e.Outcome,
			&transcript, &message, &e.LatencyMS, &archiveKey, &created); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		e.Transcript = transcript.String
		e.Message = message.String
		e.ArchiveKey = archiveKey.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes all but the newest MaxEntries rows.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.MaxEntries <= 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE id IN (
		SELECT id FROM cycles ORDER BY created_at DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxEntries)
	if err != nil {
		return fmt.Errorf("prune cycles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Debug("History pruned", slog.Int64("rows", n))
	}
	return nil
}
