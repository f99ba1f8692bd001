package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store holds the active prompt Set and reloads it from an optional YAML file.
type Store struct {
	mu     sync.RWMutex
	set    Set
	path   string
	logger *zap.Logger

	debounce time.Duration
}

// NewStore loads path over the defaults. An empty path serves the defaults only.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{set: Default(), path: path, logger: logger, debounce: 250 * time.Millisecond}
	if path != "" {
		if err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Current returns a snapshot of the active set.
func (s *Store) Current() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Path returns the overrides file, if any.
func (s *Store) Path() string { return s.path }

// Reload re-reads the overrides file. On failure the previous set stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("prompt: read %s: %w", s.path, err)
	}
	next, err := Parse(data, Default())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.set = next
	s.mu.Unlock()
	return nil
}

// Watch reloads the overrides file whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompt: watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("prompt: resolve %s: %w", s.path, err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("prompt: watch %s: %w", filepath.Dir(target), err)
	}
	s.logger.Info("watching prompt overrides", zap.String("path", target))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// editors emit bursts of events per save
			pending = time.After(s.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("prompt watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("prompt reload failed; keeping previous prompts", zap.Error(err))
				continue
			}
			s.logger.Info("prompt overrides reloaded", zap.String("path", target))
		}
	}
}
