package storage

import (
	"sync"
	"testing"
)

func TestNextCreationTimeStrictlyIncreases(t *testing.T) {
	prev := nextCreationTime()
	for i := 0; i < 1000; i++ {
		next := nextCreationTime()
		if next <= prev {
			t.Fatalf("timestamp did not increase: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestNextCreationTimeConcurrent(t *testing.T) {
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, nextCreationTime())
			}
			mu.Lock()
			for _, ts := range local {
				seen[ts] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique timestamps, got %d", workers*perWorker, len(seen))
	}
}
