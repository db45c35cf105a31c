package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
)

// FileConfigStore implements domain.ConfigStore with a JSON file.
// There is no locking: writers rename a temp file into place and readers
// treat any parse failure as an absent config.
type FileConfigStore struct {
	path   string
	logger *zap.Logger
}

// NewFileConfigStore creates a store for the blob at path.
func NewFileConfigStore(path string, logger *zap.Logger) *FileConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileConfigStore{path: path, logger: logger}
}

// Path returns the blob location.
func (s *FileConfigStore) Path() string {
	return s.path
}

// Load reads and sanitizes the blob.
func (s *FileConfigStore) Load() (domain.EnforcementConfig, error) {
	return LoadConfigFile(s.path)
}

// LoadConfigFile reads and sanitizes a blob. Missing, unreadable and
// malformed files all wrap domain.ErrConfigAbsent.
func LoadConfigFile(path string) (domain.EnforcementConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.EnforcementConfig{}, fmt.Errorf("%w: %v", domain.ErrConfigAbsent, err)
	}
	cfg, err := policy.ParseConfig(data)
	if err != nil {
		return domain.EnforcementConfig{}, fmt.Errorf("%w: %v", domain.ErrConfigAbsent, err)
	}
	return cfg, nil
}

// Save writes the blob atomically (write + rename).
func (s *FileConfigStore) Save(cfg domain.EnforcementConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Watch emits on every change to the blob. The directory is watched rather
// than the file so atomic renames are seen.
func (s *FileConfigStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	changes := make(chan struct{}, 1)
	name := filepath.Base(s.path)

	go func() {
		defer close(changes)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
					!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				// Coalesce bursts: one pending notification is enough.
				select {
				case changes <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return changes, nil
}

// IsAbsent reports whether err means "no usable config".
func IsAbsent(err error) bool {
	return errors.Is(err, domain.ErrConfigAbsent)
}

// Ensure FileConfigStore implements domain.ConfigStore.
var _ domain.ConfigStore = (*FileConfigStore)(nil)
