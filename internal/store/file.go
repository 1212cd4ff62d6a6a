package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"duebell/internal/reminder"
	"duebell/pkg/logx"
)

// fileStore keeps the whole state in one JSON document keyed by
// assignment identity. Saves go to a temp file in the same directory
// followed by a rename, so a crash mid-write leaves the previous
// snapshot intact.
type fileStore struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

func newFileStore(path string, log logx.Logger) *fileStore {
	return &fileStore{path: path, log: log}
}

func (s *fileStore) Load(ctx context.Context) (reminder.State, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *fileStore) loadLocked() (reminder.State, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return reminder.State{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var st reminder.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}
	if st == nil {
		st = reminder.State{}
	}
	return st, nil
}

func (s *fileStore) Save(ctx context.Context, st reminder.State) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *fileStore) saveLocked(st reminder.State) error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp state file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *fileStore) Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return 0, err
	}
	st, removed := reminder.Prune(st, now, retention)
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveLocked(st); err != nil {
		return 0, err
	}
	s.log.Debug("pruned stale reminder records", logx.Int("removed", removed))
	return removed, nil
}

func (s *fileStore) Close() error { return nil }
