package store

import "sync"

// pathLocks serializes mutations on the same sanitized path so that a
// concurrent upload and delete cannot race. Entries are reference-counted
// and removed once the last holder releases, keeping the table bounded by
// the number of in-flight operations.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (pl *pathLocks) acquire(path string) {
	pl.mu.Lock()
	l, ok := pl.locks[path]
	if !ok {
		l = &pathLock{}
		pl.locks[path] = l
	}
	l.refs++
	pl.mu.Unlock()

	l.mu.Lock()
}

func (pl *pathLocks) release(path string) {
	pl.mu.Lock()
	l := pl.locks[path]
	l.refs--
	if l.refs == 0 {
		delete(pl.locks, path)
	}
	pl.mu.Unlock()

	l.mu.Unlock()
}
