package liststore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the mirror whenever another process replaces the backing
// file. It returns once the watcher is installed; watching stops when ctx is
// cancelled. Events caused by this store's own writes are ignored because the
// reloaded content equals the mirror.
func (s *Store[T]) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Atomic replaces swap the inode, so watch the directory.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer func() { _ = w.Close() }()
		base := filepath.Base(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Create|fsnotify.Write) {
					continue
				}
				s.logger.Debug(map[string]any{"op": ev.Op.String()}, "list file change detected")
				s.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn(map[string]any{"error": err}, "list watcher error")
			}
		}
	}()
	return nil
}

// reload re-reads the file and notifies callbacks if its content differs
// from the mirror. Unreadable content keeps the current mirror.
func (s *Store[T]) reload() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	entries, canonical, err := s.readFile()
	if err != nil {
		s.logger.Warn(map[string]any{"error": err}, "failed to reload list, keeping current data")
		return
	}
	if canonical == s.JSON() {
		return
	}
	s.swap(entries, canonical)

	s.logger.Info(map[string]any{"entries": len(entries)}, "list reloaded from disk")
	s.notify(entries)
}
