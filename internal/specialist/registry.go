package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/conductor/internal/errs"
)

// Registry holds specialists loaded from directories. Lookups fall back to
// the builtin set when no file definition shares the id.
type Registry struct {
	mu     sync.RWMutex
	loaded map[string]*Def
	dirs   []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		loaded: make(map[string]*Def),
		logger: logger.With("component", "specialist"),
	}
}

// LoadDir parses every specialist file in path and returns how many loaded.
// Malformed files are skipped with a warning. A definition overwrites an
// earlier one with the same id.
func (r *Registry) LoadDir(path string) (int, error) {
	defs, err := r.scan(path)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		r.loaded[d.ID] = d
	}
	if !contains(r.dirs, path) {
		r.dirs = append(r.dirs, path)
	}
	return len(defs), nil
}

func (r *Registry) scan(path string) ([]*Def, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read specialist directory: %w", err)
	}

	var defs []*Def
	for _, entry := range entries {
		if entry.IsDir() || !supportedExt(entry.Name()) {
			continue
		}
		file := filepath.Join(path, entry.Name())
		def, err := ParseFile(file)
		if err != nil {
			r.logger.Warn("skipping specialist file", "path", file, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Get returns the specialist with id. File definitions win over builtins.
func (r *Registry) Get(id string) (*Def, bool) {
	r.mu.RLock()
	d, ok := r.loaded[id]
	r.mu.RUnlock()
	if ok {
		return d.Clone(), true
	}
	if b := builtin(id); b != nil {
		return b, true
	}
	return nil, false
}

// Resolve is Get returning a NotFound error for unknown ids.
func (r *Registry) Resolve(id string) (*Def, error) {
	d, ok := r.Get(id)
	if !ok {
		return nil, errs.NotFound("specialist", id)
	}
	return d, nil
}

// List returns every visible specialist sorted by id.
func (r *Registry) List() []*Def {
	byID := make(map[string]*Def)
	for _, b := range Builtins() {
		byID[b.ID] = b
	}
	r.mu.RLock()
	for id, d := range r.loaded {
		byID[id] = d.Clone()
	}
	r.mu.RUnlock()

	out := make([]*Def, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dirs returns the directories loaded so far, in load order.
func (r *Registry) Dirs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.dirs...)
}

// Reload rescans every loaded directory in order. Definitions whose files
// were removed disappear. A directory that can no longer be read is logged
// and skipped.
func (r *Registry) Reload() error {
	dirs := r.Dirs()
	fresh := make(map[string]*Def)
	for _, dir := range dirs {
		defs, err := r.scan(dir)
		if err != nil {
			r.logger.Warn("specialist directory unreadable", "path", dir, "error", err)
			continue
		}
		for _, d := range defs {
			fresh[d.ID] = d
		}
	}

	r.mu.Lock()
	r.loaded = fresh
	r.mu.Unlock()
	r.logger.Debug("specialists reloaded", "dirs", len(dirs), "count", len(fresh))
	return nil
}

// Watch reloads the registry whenever a loaded directory changes, until ctx
// is done. Bursts of events are coalesced.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range r.Dirs() {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	const settle = 100 * time.Millisecond
	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !supportedExt(event.Name) {
				continue
			}
			timer.Reset(settle)
		case <-timer.C:
			if err := r.Reload(); err != nil {
				r.logger.Warn("reload specialists", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("specialist watcher error", "error", err)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
