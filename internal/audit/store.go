// Package audit keeps a durable record of who did what to the vault:
// logins, logouts, uploads, downloads, deletions, and renames. Records live
// in a SQLite database whose schema is managed by embedded migrations.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Action names recorded in the audit trail.
const (
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
	ActionLogout      = "logout"
	ActionUpload      = "upload"
	ActionDownload    = "download"
	ActionDelete      = "delete"
	ActionRename      = "rename"
)

// Entry is one audit record.
type Entry struct {
	ID         int64     `json:"id"`
	At         time.Time `json:"at"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	Name       string    `json:"name,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// Recorder accepts audit entries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards every entry. It is used when auditing is disabled.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) error { return nil }

// Store is the SQLite-backed Recorder.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	insertStmt *sql.Stmt
	recentStmt *sql.Stmt
}

// Open opens (creating if needed) the audit database at dbPath and applies
// migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening audit database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}

	// One connection serialises writers.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger, now: time.Now}

	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and durability.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = NORMAL", "synchronous NORMAL"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("audit: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

func (s *Store) prepare(ctx context.Context) error {
	var err error

	s.insertStmt, err = s.db.PrepareContext(ctx,
		`INSERT INTO audit_events (at, username, action, name, detail, remote_addr)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	s.recentStmt, err = s.db.PrepareContext(ctx,
		`SELECT id, at, username, action, name, detail, remote_addr
		 FROM audit_events ORDER BY at DESC, id DESC LIMIT ?`)

	return err
}

// Record inserts e. A zero At is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}

	_, err := s.insertStmt.ExecContext(ctx,
		e.At.UnixNano(), e.Username, e.Action, e.Name, e.Detail, e.RemoteAddr)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", e.Action, err)
	}

	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e  Entry
			at int64
		)

		if err := rows.Scan(&e.ID, &at, &e.Username, &e.Action, &e.Name, &e.Detail, &e.RemoteAddr); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}

		e.At = time.Unix(0, at)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}

	return entries, nil
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	s.insertStmt.Close()
	s.recentStmt.Close()

	return s.db.Close()
}
