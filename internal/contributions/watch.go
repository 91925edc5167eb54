package contributions

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce coalesces bursts of file events into one reload.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watch reloads the index whenever either CSV is created, written, renamed or
// removed by anything, including other processes and manual edits. It blocks
// until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	watched := map[string]bool{
		FileName(KindIndividual): true,
		FileName(KindPAC):        true,
	}

	var timer *time.Timer
	reload := func() {
		if err := s.Reload(); err != nil {
			s.logger.Warn("contribution index reload incomplete", zap.Error(err))
			return
		}
		s.logger.Info("contribution index reloaded", zap.Int("candidates", s.Len()))
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Base(event.Name)] || event.Op == fsnotify.Chmod {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("contribution watcher error", zap.Error(err))
		}
	}
}
