package mcp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long after the last write event a reload fires,
// so editors that write in several steps trigger one reload.
const reloadDebounce = 500 * time.Millisecond

// reloader watches the policy config file and invokes the reload
// callback after changes settle.
type reloader struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// watchPolicy starts a background watcher on path. reload is called
// from the watcher goroutine.
func watchPolicy(path string, logger *slog.Logger, reload func()) (*reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	r := &reloader{
		watcher: watcher,
		done:    make(chan struct{}),
	}

	go func() {
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case <-r.done:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(reloadDebounce, reload)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", "error", err)
			}
		}
	}()

	return r, nil
}

func (r *reloader) stop() {
	close(r.done)
	r.watcher.Close()
}
