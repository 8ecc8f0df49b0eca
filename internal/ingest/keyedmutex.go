package ingest

import (
	"sync"

	"mandiwatch/internal/model"
)

// keyedMutex serialises work per series key. Entries are created lazily on
// first acquisition and reaped once the last holder or waiter releases, so an
// idle key costs nothing.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[model.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[model.Key]*keyLock)}
}

// Lock blocks until the key's lock is held and returns the unlock func.
func (km *keyedMutex) Lock(key model.Key) func() {
	km.mu.Lock()
	kl := km.locks[key]
	if kl == nil {
		kl = &keyLock{}
		km.locks[key] = kl
	}
	kl.refs++
	km.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		km.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// active reports the number of live key locks (test hook).
func (km *keyedMutex) active() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
