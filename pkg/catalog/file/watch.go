package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last change before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Catalog when its export changes on disk.
type Watcher struct {
	catalog  *Catalog
	debounce time.Duration
	onChange func(ctx context.Context) error

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts watching the catalog file. After each debounced change the
// catalog is reloaded and onChange is called. The directory is watched rather
// than the file so editors that replace the file by rename are seen.
// Watching stops when ctx is cancelled or Close is called.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration, onChange func(ctx context.Context) error) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(c.path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", c.path, err)
	}

	w := &Watcher{
		catalog:  c,
		debounce: debounce,
		onChange: onChange,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	go w.processEvents(ctx)

	c.logger.Info().
		Dur("debounce", debounce).
		Msg("Started watching catalog")
	return w, nil
}

// Done is closed when the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	target := filepath.Clean(w.catalog.path)
	logger := w.catalog.logger

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			logger.Debug().
				Str("op", event.Op.String()).
				Msg("Catalog file changed")

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	logger := w.catalog.logger
	if err := w.catalog.Reload(); err != nil {
		logger.Error().Err(err).Msg("Failed to reload catalog")
		return
	}
	if w.onChange == nil {
		return
	}
	if err := w.onChange(ctx); err != nil {
		logger.Error().Err(err).Msg("Catalog change handler failed")
	}
}
