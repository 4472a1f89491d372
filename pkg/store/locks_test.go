package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("acct:alice")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := NewKeyedMutex()

	unlockA := locks.Lock("acct:alice")
	// A different key must not block.
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("acct:bob")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	locks := NewKeyedMutex()

	unlock := locks.Lock("loan:1")
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}
