// Package keylock provides reader/writer locks scoped to string keys.
package keylock

import "sync"

// Map hands out one RWMutex per key. Lock entries are reference counted and
// released once no holder or waiter remains, so the map only grows with the
// number of keys in active use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sync.RWMutex
	refs int
}

// New creates an empty Map.
func New() *Map { return &Map{locks: make(map[string]*entry)} }

// Lock acquires the write lock for key and returns its release function.
func (m *Map) Lock(key string) (unlock func()) {
	e := m.acquire(key)
	e.Lock()
	return func() {
		e.Unlock()
		m.release(key, e)
	}
}

// RLock acquires a read lock for key and returns its release function.
func (m *Map) RLock(key string) (unlock func()) {
	e := m.acquire(key)
	e.RLock()
	return func() {
		e.RUnlock()
		m.release(key, e)
	}
}

// Len reports how many keys currently have a lock entry.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok {
		e = new(entry)
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
