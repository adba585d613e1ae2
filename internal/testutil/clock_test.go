package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtStart(t *testing.T) {
	clock := NewDeterministicClock(1000, 10)
	assert.Equal(t, int64(1000), clock.Current())
}

func TestDeterministicClock_NowAdvancesByStep(t *testing.T) {
	clock := NewDeterministicClock(1000, 10)

	assert.Equal(t, int64(1010), clock.Now())
	assert.Equal(t, int64(1020), clock.Now())
	assert.Equal(t, int64(1020), clock.Current())
}

func TestDeterministicClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewDeterministicClock(42, 0)
	assert.Equal(t, int64(42), clock.Now())
	assert.Equal(t, int64(42), clock.Now())
}

func TestDeterministicClock_SetAndReset(t *testing.T) {
	clock := NewDeterministicClock(5, 1)
	clock.Set(100)
	assert.Equal(t, int64(101), clock.Now())

	clock.Reset()
	assert.Equal(t, int64(6), clock.Now())
}

func TestDeterministicClock_Concurrent(t *testing.T) {
	clock := NewDeterministicClock(0, 1)

	const goroutines = 50
	var wg sync.WaitGroup
	seen := make(chan int64, goroutines)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- clock.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for v := range seen {
		unique[v] = true
	}
	assert.Len(t, unique, goroutines)
	assert.Equal(t, int64(goroutines), clock.Current())
}
