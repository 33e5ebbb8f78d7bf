package keylock

import "sync"

// Locker hands out one mutex per key so that operations against the same
// account serialize while unrelated accounts proceed in parallel. Mutexes
// are kept for the lifetime of the Locker; the key space is bounded by the
// number of accounts, so nothing is ever released.
type Locker struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func New() *Locker {
	return &Locker{keys: map[string]*sync.Mutex{}}
}

func (l *Locker) Get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.keys[key]
	if !ok {
		m = &sync.Mutex{}
		l.keys[key] = m
	}
	return m
}
