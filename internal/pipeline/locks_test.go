package pipeline

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("doc")
			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			mu.Lock()
			counter--
			mu.Unlock()
			km.Unlock("doc")
		}()
	}
	wg.Wait()

	if max > 1 {
		t.Fatalf("observed %d concurrent holders of one key", max)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
	km.Unlock("a")
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	km.Lock("x")
	km.Unlock("x")
	km.mu.Lock()
	n := len(km.locks)
	km.mu.Unlock()
	if n != 0 {
		t.Fatalf("lock map holds %d entries after release, want 0", n)
	}
}
