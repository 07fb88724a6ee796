package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/quotely/pricelearn/pkg/models"
)

// TunablesWatcher serves the current tunable set and hot-reloads it when the
// tunables file changes. Threshold tweaks apply to the next event without a
// worker restart.
type TunablesWatcher struct {
	path    string
	mu      sync.RWMutex
	current *models.Tunables
	watcher *fsnotify.Watcher
}

// NewTunablesWatcher loads the tunables once and starts watching the file's
// directory. Watching the directory instead of the file survives the
// rename-and-replace most editors do on save.
func NewTunablesWatcher(ctx context.Context, path string) (*TunablesWatcher, error) {
	tunables, err := LoadTunables(path)
	if err != nil {
		return nil, err
	}

	w := &TunablesWatcher{path: path, current: tunables}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Tunables watcher unavailable, hot reload disabled")
		return w, nil
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		log.Warn().Err(err).Str("path", path).Msg("Tunables watch failed, hot reload disabled")
		return w, nil
	}
	w.watcher = fw

	go w.run(ctx)
	return w, nil
}

// Current returns the active tunable set. Callers must not mutate it.
func (w *TunablesWatcher) Current() *models.Tunables {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *TunablesWatcher) run(ctx context.Context) {
	defer w.watcher.Close()

	// Debounce bursts of write events from a single save.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Tunables watcher error")
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *TunablesWatcher) reload() {
	tunables, err := LoadTunables(w.path)
	if err != nil {
		// Keep the last good set; a typo in the file must not zero thresholds.
		log.Error().Err(err).Str("path", w.path).Msg("Tunables reload failed, keeping previous values")
		return
	}

	w.mu.Lock()
	w.current = tunables
	w.mu.Unlock()
	log.Info().Str("path", w.path).Msg("Tunables reloaded")
}
