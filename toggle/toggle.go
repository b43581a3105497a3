// Package toggle holds the process-wide "suggestions enabled" flag.
//
// A Toggle can live only in memory or be backed by a small JSON state file,
// in which case Set persists the new value and Watch picks up edits made by
// other processes.
package toggle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type stateFile struct {
	SuggestionsEnabled bool `json:"suggestions_enabled"`
}

// Toggle is safe for concurrent use. Subscribers are called on the goroutine
// that changed the value, outside any lock.
type Toggle struct {
	mu      sync.Mutex
	enabled bool
	path    string
	subs    map[int]func(bool)
	nextID  int
	watcher *fsnotify.Watcher
}

// New returns an in-memory toggle.
func New(enabled bool) *Toggle {
	return &Toggle{enabled: enabled, subs: make(map[int]func(bool))}
}

// Open returns a toggle backed by the state file at path. A missing file
// yields def; an unreadable one is an error.
func Open(path string, def bool) (*Toggle, error) {
	t := New(def)
	t.path = path
	enabled, err := readState(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		t.enabled = enabled
	}
	return t, nil
}

func readState(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return st.SuggestionsEnabled, nil
}

func writeState(path string, enabled bool) error {
	data, err := json.Marshal(stateFile{SuggestionsEnabled: enabled})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Enabled reports the current value.
func (t *Toggle) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Set changes the value, persists it when the toggle is file backed, and
// notifies subscribers if it changed.
func (t *Toggle) Set(enabled bool) error {
	var err error
	if t.path != "" {
		err = writeState(t.path, enabled)
	}
	t.update(enabled)
	return err
}

// update stores enabled and notifies subscribers on change.
func (t *Toggle) update(enabled bool) {
	t.mu.Lock()
	if t.enabled == enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = enabled
	subs := make([]func(bool), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	slog.Debug("suggestions toggled", "enabled", enabled)
	for _, fn := range subs {
		fn(enabled)
	}
}

// Subscribe registers fn to be called with each new value. The returned
// function unregisters it.
func (t *Toggle) Subscribe(fn func(enabled bool)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Watch reloads the value whenever the state file changes on disk, until ctx
// is done or Close is called. It watches the parent directory so atomic
// replacements of the file are seen.
func (t *Toggle) Watch(ctx context.Context) error {
	if t.path == "" {
		return errors.New("toggle: watch requires a state file")
	}
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	t.mu.Lock()
	if t.watcher != nil {
		t.mu.Unlock()
		w.Close()
		return errors.New("toggle: already watching")
	}
	t.watcher = w
	t.mu.Unlock()

	go t.watchLoop(ctx, w)
	return nil
}

func (t *Toggle) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	name := filepath.Clean(t.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			enabled, err := readState(t.path)
			if err != nil {
				// Partial writes and renamed-away files settle on the next event.
				slog.Debug("state file not readable", "path", t.path, "error", err)
				continue
			}
			t.update(enabled)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("state file watcher error", "error", err)
		}
	}
}

// Close stops watching. Subscribers are kept.
func (t *Toggle) Close() error {
	t.mu.Lock()
	w := t.watcher
	t.watcher = nil
	t.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
