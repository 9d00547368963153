package hooks

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of file events an editor save produces
// into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Start begins watching the hook configuration file when reload is enabled.
// It returns immediately; watching continues in the background until Stop is
// called or ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	if !r.reload || r.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the containing directory rather than the file itself so editors
	// that replace the file atomically are still observed.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	r.wg.Add(1)
	go r.watchLoop(ctx, watcher)

	r.logger.Info("Watching hook configuration", "path", r.path)
	return nil
}

// Stop terminates the reload watcher and waits for it to exit.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runner) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer r.wg.Done()
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, r.Reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("Hook watcher error", "error", err)
		}
	}
}
