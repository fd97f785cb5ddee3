// Package keylock provides a mutex per key, e.g. per user id.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map hands out per-key locks and forgets keys nobody holds or waits on.
type Map struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

func New() *Map {
	return &Map{locks: make(map[int64]*entry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (m *Map) Lock(key int64) (unlock func()) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of keys currently tracked.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
