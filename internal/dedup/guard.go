// Package dedup provides a process-local filter against double-admission of
// inbound events. It is a best-effort pre-filter: the ticket store's
// insert-if-absent on event IDs remains the authoritative check, because the
// guard does not survive restarts.
package dedup

import "sync"

// Guard tracks event IDs admitted during this process lifetime.
type Guard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{seen: make(map[string]struct{})}
}

// Admit returns true exactly once per distinct event ID for the guard's
// lifetime. Concurrent callers never double-admit the same ID.
func (g *Guard) Admit(eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[eventID]; ok {
		return false
	}
	g.seen[eventID] = struct{}{}
	return true
}

// Forget releases an event ID so a later delivery can be admitted again.
// Used when classification fails before any side effect, leaving the event
// for redelivery.
func (g *Guard) Forget(eventID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, eventID)
}

// Prime seeds the guard with already-filed event IDs, typically read from
// the ticket store at startup.
func (g *Guard) Prime(eventIDs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range eventIDs {
		g.seen[id] = struct{}{}
	}
}

// Len returns the number of tracked IDs.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
