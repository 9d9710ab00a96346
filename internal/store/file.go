package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const defaultMaxBackups = 5

// FileStore persists the state document as one JSON file. Saves are atomic:
// the document is written to a temp file in the same directory, fsynced, and
// renamed over the previous version. Before each overwrite the previous
// version is rotated into a bounded set of timestamped backups.
type FileStore struct {
	path       string
	backupDir  string
	maxBackups int
	logger     *slog.Logger
	now        func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithMaxBackups bounds the rotated backup count.
func WithMaxBackups(n int) FileStoreOption {
	return func(f *FileStore) { f.maxBackups = n }
}

// WithClock overrides the backup timestamp source for tests.
func WithClock(now func() time.Time) FileStoreOption {
	return func(f *FileStore) { f.now = now }
}

// NewFileStore creates a file-backed persister rooted at path. Backups live
// in a sibling "backups" directory.
func NewFileStore(path string, logger *slog.Logger, opts ...FileStoreOption) *FileStore {
	f := &FileStore{
		path:       path,
		backupDir:  filepath.Join(filepath.Dir(path), "backups"),
		maxBackups: defaultMaxBackups,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load reads the state document. A missing file yields empty collections; an
// unparsable file is logged as corrupt and also yields empty collections so
// startup degrades instead of crashing.
func (f *FileStore) Load(_ context.Context) (*State, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	state := NewState()
	if err := json.Unmarshal(raw, state); err != nil {
		f.logger.Error("state file is corrupt, starting with empty collections",
			"path", f.path, "error", err)
		return NewState(), nil
	}
	state.normalize()
	return state, nil
}

// Save durably replaces the state document.
func (f *FileStore) Save(_ context.Context, state *State) error {
	state.LastUpdated = f.now()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := f.rotateBackup(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// rotateBackup copies the current document into the backup directory and
// prunes the oldest backups beyond the bound.
func (f *FileStore) rotateBackup() error {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state for backup: %w", err)
	}
	if err := os.MkdirAll(f.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.bak", filepath.Base(f.path), f.now().UTC().Format("20060102T150405.000000000"))
	if err := os.WriteFile(filepath.Join(f.backupDir, name), raw, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	entries, err := os.ReadDir(f.backupDir)
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() {
			backups = append(backups, entry.Name())
		}
	}
	sort.Strings(backups)
	for len(backups) > f.maxBackups {
		if err := os.Remove(filepath.Join(f.backupDir, backups[0])); err != nil {
			f.logger.Warn("prune backup failed", "file", backups[0], "error", err)
		}
		backups = backups[1:]
	}
	return nil
}
