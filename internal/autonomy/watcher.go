package autonomy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"reverie/internal/logging"
	"reverie/internal/plugin"
)

const settingsDebounce = 250 * time.Millisecond

// SettingsWatcher hot-reloads a YAML overlay of settings. Editing the
// file writes each key through the settings surface, where the
// autonomy poll and every other reader picks it up. Registered as a
// service when the config names an overlay file.
//
// The parent directory is watched rather than the file itself, so
// editors that save by rename are still seen.
type SettingsWatcher struct {
	path string
	rt   plugin.Runtime

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	dirty   time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ plugin.Service = (*SettingsWatcher)(nil)

// NewSettingsWatcher watches path once started.
func NewSettingsWatcher(path string) *SettingsWatcher {
	return &SettingsWatcher{path: filepath.Clean(path)}
}

func (w *SettingsWatcher) Name() string { return "settingsWatcher" }

// Start applies the overlay once, then follows edits until Stop.
func (w *SettingsWatcher) Start(ctx context.Context, rt plugin.Runtime) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if w.path == "" || w.path == "." {
		return fmt.Errorf("settings overlay path is empty")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create overlay watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.rt = rt
	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.apply(ctx)
	go w.run(ctx)

	logging.Settings("Watching settings overlay %s", w.path)
	return nil
}

// Stop halts the watch loop and waits for it to exit.
func (w *SettingsWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.watcher.Close()
}

// run coalesces bursts of file events: edits mark the overlay dirty,
// and a ticker applies it once the burst settles.
func (w *SettingsWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.dirty = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.SettingsWarn("Overlay watcher error: %v", err)
		case <-ticker.C:
			w.mu.Lock()
			due := !w.dirty.IsZero() && time.Since(w.dirty) >= settingsDebounce
			if due {
				w.dirty = time.Time{}
			}
			w.mu.Unlock()
			if due {
				w.apply(ctx)
			}
		}
	}
}

// apply reads the overlay and writes every scalar key through the
// settings surface. A missing file is quiet; a malformed one is logged
// and skipped, leaving current settings intact.
func (w *SettingsWatcher) apply(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.SettingsDebug("Settings overlay %s not present yet", w.path)
		} else {
			logging.SettingsWarn("Failed to read settings overlay: %v", err)
		}
		return
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		logging.SettingsWarn("Malformed settings overlay %s: %v", w.path, err)
		return
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	applied := 0
	for _, k := range keys {
		val, ok := scalarString(raw[k])
		if !ok {
			logging.SettingsWarn("Skipping non-scalar overlay key %q", k)
			continue
		}
		if err := w.rt.Settings().Set(ctx, k, val); err != nil {
			logging.SettingsWarn("Failed to apply overlay key %q: %v", k, err)
			continue
		}
		applied++
	}
	logging.Settings("Applied %d setting(s) from %s", applied, filepath.Base(w.path))
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}
