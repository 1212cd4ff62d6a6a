package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"duebell/internal/reminder"
	"duebell/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reminders (
    assignment_id TEXT PRIMARY KEY,
    due_at        TEXT NOT NULL,
    sent_targets  TEXT NOT NULL,
    last_updated  TEXT NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (reminder.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT assignment_id, due_at, sent_targets, last_updated FROM reminders`)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	st := reminder.State{}
	for rows.Next() {
		var id, dueAt, targets, updated string
		if err := rows.Scan(&id, &dueAt, &targets, &updated); err != nil {
			return nil, fmt.Errorf("scan reminder row: %w", err)
		}
		rec, err := decodeRecord(dueAt, targets, updated)
		if err != nil {
			return nil, fmt.Errorf("%w: row %q: %v", ErrCorruptState, id, err)
		}
		st[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Save(ctx context.Context, st reminder.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return fmt.Errorf("clear reminders: %w", err)
	}
	for id, rec := range st {
		targets, err := json.Marshal(rec.SentTargets)
		if err != nil {
			return fmt.Errorf("marshal targets for %q: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reminders(assignment_id, due_at, sent_targets, last_updated) VALUES(?,?,?,?)`,
			id,
			rec.DueAt.UTC().Format(time.RFC3339Nano),
			string(targets),
			rec.LastUpdated.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert reminder %q: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	st, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	st, removed := reminder.Prune(st, now, retention)
	if removed == 0 {
		return 0, nil
	}
	if err := s.Save(ctx, st); err != nil {
		return 0, err
	}
	s.log.Debug("pruned stale reminder records", logx.Int("removed", removed))
	return removed, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeRecord(dueAt, targets, updated string) (reminder.Record, error) {
	var rec reminder.Record
	due, err := time.Parse(time.RFC3339Nano, dueAt)
	if err != nil {
		return rec, err
	}
	upd, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return rec, err
	}
	var ts []time.Time
	if err := json.Unmarshal([]byte(targets), &ts); err != nil {
		return rec, err
	}
	rec.DueAt = due
	rec.SentTargets = ts
	rec.LastUpdated = upd
	return rec, nil
}
