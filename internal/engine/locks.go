package engine

import "sync"

// eventLocks serializes mutations per event: trade placement,
// cancellation, and settlement on the same event take the same lock, so
// settlement can never interleave with an in-flight trade. Different
// events proceed in parallel. Single-instance scope; for horizontal
// scaling, replace with distributed locking or rely on the store's
// conditional updates alone.
type eventLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEventLocks() *eventLocks {
	return &eventLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the event's mutex and returns the unlock function.
func (l *eventLocks) acquire(eventID string) func() {
	l.mu.Lock()
	m, ok := l.locks[eventID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[eventID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
