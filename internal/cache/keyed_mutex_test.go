package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	const workers = 16
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("caller-a")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	assert.Equal(t, 0, km.Len(), "lock map should be empty after all releases")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("caller-a")
	defer unlockA()

	// A different key must not block.
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("caller-b")
		unlockB()
		close(done)
	}()

	<-done
	assert.Equal(t, 1, km.Len())
}

func TestKeyedMutexReusableAfterRelease(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("caller-a")
	unlock()
	assert.Equal(t, 0, km.Len())

	unlock = km.Lock("caller-a")
	unlock()
	assert.Equal(t, 0, km.Len())
}
