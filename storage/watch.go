package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchEvent is a change to one item file made by any process.
type WatchEvent struct {
	Href    string
	Removed bool
}

// Watch reports changes to item files in the collection directory until ctx
// is cancelled. Temporary and hidden files are ignored.
func (s *FilesystemStorage) Watch(ctx context.Context, fn func(WatchEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	s.log.Info("Watching collection", slog.String("path", s.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !s.isItemName(name) {
				continue
			}
			fn(WatchEvent{
				Href:    name,
				Removed: event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename),
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("Watcher error", "err", err)
		}
	}
}
