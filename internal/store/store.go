// Package store persists reminder delivery state.
//
// It is the only component that touches durable storage. Both drivers
// assume a single writer process; concurrent writers must be excluded
// externally (run one daemon per state file).
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"duebell/internal/reminder"
	"duebell/pkg/logx"
)

// ErrCorruptState is returned by Load when the backing representation
// cannot be parsed. The caller fails the cycle loudly rather than
// silently resetting, so data loss never hides behind duplicate sends.
var ErrCorruptState = errors.New("reminder state corrupt")

// Config selects and tunes the backend.
//
// Driver values:
//   - "" or "file": JSON snapshot, atomically replaced on save
//   - "sqlite" / "sqlite3": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable mapping from assignment identity to delivery
// history.
type Store interface {
	// Load returns the full mapping; a missing backing file is an empty
	// state, an unreadable one is ErrCorruptState.
	Load(ctx context.Context) (reminder.State, error)
	// Save atomically replaces the persisted mapping. A concurrent
	// reader never observes a partial write.
	Save(ctx context.Context, st reminder.State) error
	// Prune removes records whose last write is older than retention and
	// reports how many were removed. It saves internally.
	Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error)
	Close() error
}

const defaultFilePath = "./duebell_state.json"

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			path = defaultFilePath
		}
		return newFileStore(path, log), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
