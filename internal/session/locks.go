package session

import "sync"

// Locker serializes turns per session within the process. Two concurrent
// turns on one session would race on verification_attempts and the
// customer_id binding; taking the session's lock for the duration of the
// turn prevents that. Locks are never reclaimed; sessions are short-lived
// and the set is bounded by call volume.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocker returns an empty per-session lock table.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the session's mutex and returns its unlock func.
func (l *Locker) Lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
