package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic_StrictlyIncreasing(t *testing.T) {
	fixed := Fixed{T: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonotonic(fixed)

	prev := m.Now()
	for i := 0; i < 100; i++ {
		next := m.Now()
		assert.True(t, next.After(prev), "timestamp %d not after previous", i)
		prev = next
	}
}

func TestMonotonic_BackwardsWallClock(t *testing.T) {
	m := NewMonotonic(Fixed{T: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)})
	first := m.Now()

	// Same wall-clock instant again; must still move forward.
	second := m.Now()
	assert.True(t, second.After(first))
}

func TestMonotonic_ConcurrentUnique(t *testing.T) {
	m := NewMonotonic(nil)

	const n = 200
	var wg sync.WaitGroup
	results := make([]time.Time, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Now()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, ts := range results {
		assert.False(t, seen[ts.UnixNano()], "duplicate timestamp %v", ts)
		seen[ts.UnixNano()] = true
	}
}

func TestStepping_Advances(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewStepping(start, time.Second)

	assert.Equal(t, start, s.Now())
	assert.Equal(t, start.Add(time.Second), s.Now())
	assert.Equal(t, start.Add(2*time.Second), s.Now())
}
