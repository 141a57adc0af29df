package services

import "sync"

// IndexLocks serialises writers per index name. Schema recreation and bulk
// upserts against the same index take the same lock; different indexes do
// not block each other.
type IndexLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexLocks creates an empty lock table.
func NewIndexLocks() *IndexLocks {
	return &IndexLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the named index is free and returns its unlock func.
func (l *IndexLocks) Lock(name string) func() {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
