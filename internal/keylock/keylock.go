// Package keylock provides per-key mutual exclusion within one process.
package keylock

import (
	"strconv"
	"sync"
)

// Map hands out one mutex per key. Entries are dropped once no goroutine
// holds or waits on them, so the map does not grow with every key seen.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty Map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the function that releases it.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.locks, key)
			}
			m.mu.Unlock()
		})
	}
}

// EntityKey is the key for per-entity work.
func EntityKey(id int64) string { return "entity:" + strconv.FormatInt(id, 10) }

// SessionKey is the key for per-session work.
func SessionKey(id string) string { return "session:" + id }
