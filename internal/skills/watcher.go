package skills

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatching begins reloading the library whenever the skills tree
// changes on disk. Edits are debounced so a burst of writes produces a
// single reload. Watching an already watched library is a no-op.
func (l *Library) StartWatching(ctx context.Context) error {
	l.watchMu.Lock()
	if l.watcher != nil {
		l.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.watchMu.Unlock()
		return err
	}
	l.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel
	debounce := l.watchDebounce
	l.watchMu.Unlock()

	if err := l.ensureDirs(); err != nil {
		return err
	}
	for _, dir := range []string{l.root, l.PendingDir(), l.LearnedDir()} {
		if err := watcher.Add(dir); err != nil {
			l.logger.Debug("failed to watch skills path", "path", dir, "error", err)
		}
	}

	l.watchWg.Add(1)
	go l.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops any active watcher.
func (l *Library) Close() error {
	l.watchMu.Lock()
	if l.watchCancel != nil {
		l.watchCancel()
		l.watchCancel = nil
	}
	watcher := l.watcher
	l.watcher = nil
	l.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	l.watchWg.Wait()
	return nil
}

func (l *Library) watchLoop(ctx context.Context, debounce time.Duration) {
	defer l.watchWg.Done()
	l.watchMu.Lock()
	watcher := l.watcher
	l.watchMu.Unlock()
	if watcher == nil {
		return
	}

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := l.Load(); err != nil {
				l.logger.Warn("skill reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				// New directory-backed skills need their own watch so
				// README edits inside them are seen.
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := watcher.Add(event.Name); err != nil {
							l.logger.Debug("failed to watch skill dir", "path", event.Name, "error", err)
						}
					}
				}
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("skill watch error", "error", err)
		}
	}
}
