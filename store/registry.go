package store

import (
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Registry caches open repositories keyed by canonical path. Handles are
// non-owning: callers check StillValid before use instead of relying on
// finalizer-driven invalidation.
type Registry struct {
	mu    sync.Mutex
	repos map[string]*Repo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{repos: make(map[string]*Repo)}
}

// Get returns the cached repository for path, opening (or initializing,
// when create is set) on first use or when the cached handle went stale.
func (g *Registry) Get(path string, create bool, logger *zap.SugaredLogger) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.repos[abs]; ok && r.StillValid() {
		return r, nil
	}

	var r *Repo
	if create {
		r, err = Init(abs, logger)
	} else {
		r, err = Open(abs, logger)
	}
	if err != nil {
		return nil, err
	}
	g.repos[abs] = r
	return r, nil
}

// Drop forgets a cached handle.
func (g *Registry) Drop(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	g.mu.Lock()
	delete(g.repos, abs)
	g.mu.Unlock()
}
