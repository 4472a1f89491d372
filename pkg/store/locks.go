package store

import "sync"

// KeyedMutex serializes mutations per entity (per account, per loan, per
// payment reference). One instance is shared by every service touching the
// same store, so two concurrent repayments on one loan can never both read a
// stale balance.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entityLock)}
}

// Lock acquires the mutex for key and returns its unlock func.
//
//	defer locks.Lock("loan:" + id.String())()
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &entityLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
