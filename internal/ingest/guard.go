package ingest

import (
	"fmt"
	"sync"
)

// Guard rejects a second concurrent import of the same source and layer.
type Guard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func NewGuard() *Guard { return &Guard{running: map[string]struct{}{}} }

// Acquire returns a release func, or ErrImportInProgress when key is held.
func (g *Guard) Acquire(key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrImportInProgress, key)
	}
	g.running[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, key)
			g.mu.Unlock()
		})
	}, nil
}
