package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-compose/internal/config"
	_ "modernc.org/sqlite"
)

// Composition is one finished compose request.
type Composition struct {
	RequestID   string    `json:"request_id"`
	ChannelID   string    `json:"channel_id,omitempty"`
	EventCount  int       `json:"event_count"`
	NoteCount   int       `json:"note_count"`
	Duration    float64   `json:"duration_seconds"`
	Backend     string    `json:"backend,omitempty"`
	Status      string    `json:"status"`
	AudioSHA256 string    `json:"audio_sha256,omitempty"`
	AudioBytes  int       `json:"audio_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps a SQLite log of compositions. In ephemeral mode it records nothing.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
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
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS compositions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    channel_id TEXT,
    event_count INTEGER NOT NULL,
    note_count INTEGER NOT NULL,
    duration_seconds REAL NOT NULL,
    backend TEXT,
    status TEXT NOT NULL,
    audio_sha256 TEXT,
    audio_bytes INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_compositions_channel_created ON compositions(channel_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Persistent reports whether records are written to disk.
func (s *Store) Persistent() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record writes a composition row.
func (s *Store) Record(ctx context.Context, c Composition) error {
	if !s.Persistent() {
		return nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compositions(request_id, channel_id, event_count, note_count, duration_seconds, backend, status, audio_sha256, audio_bytes, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RequestID, c.ChannelID, c.EventCount, c.NoteCount, c.Duration, c.Backend, c.Status, c.AudioSHA256, c.AudioBytes, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record composition: %w", err)
	}
	return nil
}

// Recent lists up to limit compositions, newest first. An empty channel matches every channel.
func (s *Store) Recent(ctx context.Context, channel string, limit int) ([]Composition, error) {
	if !s.Persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, channel_id, event_count, note_count, duration_seconds, backend, status, audio_sha256, audio_bytes, created_at
		 FROM compositions WHERE (? = '' OR channel_id = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		channel, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Composition
	for rows.Next() {
		var c Composition
		var channelID, backend, sum sql.NullString
		var created int64
		if err := rows.Scan(&c.RequestID, &channelID, &c.EventCount, &c.NoteCount, &c.Duration, &backend, &c.Status, &sum, &c.AudioBytes, &created); err != nil {
			return nil, err
		}
		c.ChannelID = channelID.String
		c.Backend = backend.String
		c.AudioSHA256 = sum.String
		c.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Persistent() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM compositions WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM compositions WHERE id IN (
			SELECT id FROM compositions ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
