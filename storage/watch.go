package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"miku/bus"
)

// Window in which file events are attributed to our own writes.
const selfWriteWindow = 500 * time.Millisecond

// Watch reports writes made to the database by other processes as
// store.changed events with Remote set. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// SQLite replaces and creates the -wal and -shm files, so watch the
	// directory rather than the database file.
	dir := filepath.Dir(s.Path())
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(s.Path())

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if s.recentlyWrote() {
				continue
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if pending && !s.recentlyWrote() {
				s.logger.Debug("database changed by another process")
				s.bus.Emit(bus.KindStoreChanged, StoreChange{Remote: true})
			}
			pending = false

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (s *Store) recentlyWrote() bool {
	last := s.lastWrite.Load()
	return last != 0 && time.Since(time.UnixMilli(last)) < selfWriteWindow
}
