package service

import "sync"

// entityGuard serializes work per entity id. TryAcquire never blocks: if the
// id is already held the caller skips its turn and the holder finishes.
type entityGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newEntityGuard() *entityGuard {
	return &entityGuard{held: map[string]struct{}{}}
}

func (g *entityGuard) TryAcquire(id string) bool {
	if g == nil || id == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[id]; ok {
		return false
	}
	g.held[id] = struct{}{}
	return true
}

func (g *entityGuard) Release(id string) {
	if g == nil || id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, id)
}
