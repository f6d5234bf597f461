package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	)

func TestLock_SerializesSameKey(t *testing.T) {
	t.Parallel()
	m := New()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("session-1")
			defer unlock()
			n := active.Add(1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, held(m))
}

func TestLock_DistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()
	m := New()

	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLock_UnlockIsIdempotent(t *testing.T) {
	t.Parallel()
	m := New()

	unlock := m.Lock("k")
	unlock()
	unlock()
	assert.Equal(t, 0, held(m))

	// A second release must not free a lock taken after the first.
	again := m.Lock("k")
	unlock()
	assert.Equal(t, 1, held(m))
	again()
	assert.Equal(t, 0, held(m))
}

func TestKeys(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "entity:42", EntityKey(42))
	assert.Equal(t, "session:abc", SessionKey("abc"))
	assert.NotEqual(t, EntityKey(1), SessionKey("1"))
}

func held(m *Map) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
