package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Registry resolves strategy names to bundles: first under a directory on disk,
// then among the builtin ones. Loaded bundles are cached until their files change.
type Registry struct {
	dir    string
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Strategy
}

// NewRegistry creates a registry. dir may be empty to use builtin strategies only.
func NewRegistry(dir string, logger zerolog.Logger) *Registry {
	return &Registry{
		dir:    dir,
		logger: logger.With().Str("component", "strategies").Logger(),
		cache:  make(map[string]*Strategy),
	}
}

// Get returns the named strategy.
func (r *Registry) Get(name string) (*Strategy, error) {
	r.mu.RLock()
	s, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := r.load(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[name] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) load(name string) (*Strategy, error) {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid strategy name %q", name)
	}
	if r.dir != "" {
		if info, err := os.Stat(filepath.Join(r.dir, name)); err == nil && info.IsDir() {
			s, err := Load(os.DirFS(r.dir), name)
			if err != nil {
				return nil, err
			}
			r.logger.Debug().Str("strategy", name).Str("source", r.dir).Msg("Strategy loaded")
			return s, nil
		}
	}
	s, err := Builtin(name)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("strategy", name).Str("source", "builtin").Msg("Strategy loaded")
	return s, nil
}

// Names lists every resolvable strategy.
func (r *Registry) Names() []string {
	seen := map[string]bool{}
	for _, n := range BuiltinNames() {
		seen[n] = true
	}
	if r.dir != "" {
		entries, err := os.ReadDir(r.dir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					seen[e.Name()] = true
				}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invalidate drops a cached strategy so the next Get reloads it.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

// Watch invalidates cached strategies whose files change, until ctx is done.
// Tasks already running keep the bundle they started with.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}
	entries, _ := os.ReadDir(r.dir)
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(r.dir, e.Name())); err != nil {
				r.logger.Warn().Err(err).Str("strategy", e.Name()).Msg("Cannot watch strategy")
			}
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.handleEvent(watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error().Err(err).Msg("Strategy watcher error")
			}
		}
	}()

	r.logger.Info().Str("path", r.dir).Msg("Watching strategies")
	return nil
}

func (r *Registry) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(r.dir, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	name := strings.Split(filepath.ToSlash(rel), "/")[0]

	if event.Op&fsnotify.Create == fsnotify.Create && rel == name {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
				r.logger.Warn().Err(err).Str("strategy", name).Msg("Cannot watch strategy")
			}
		}
	}

	r.Invalidate(name)
	r.logger.Info().Str("strategy", name).Str("op", event.Op.String()).Msg("Strategy changed, cache invalidated")
}
