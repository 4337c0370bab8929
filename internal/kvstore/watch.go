package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the store whenever its file is replaced or written by
// another process and calls onChange after each successful reload. It
// blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file, because Sync
// replaces the file by rename.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := s.Reload(); err != nil {
				if errors.Is(err, ErrDirty) {
					s.logger.Debug("skipping reload with unsynced changes", zap.String("path", s.path))
				} else {
					s.logger.Warn("store reload failed", zap.String("path", s.path), zap.Error(err))
				}
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}
