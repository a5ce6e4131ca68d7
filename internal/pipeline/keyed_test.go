package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedExecutor_FIFOPerKey(t *testing.T) {
	e := NewKeyedExecutor()

	// No mutex around the slice: per-key serialization is the claim
	// under test, and the race detector will catch a violation.
	order := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, e.Submit("student/skill", func() {
			order = append(order, i)
		}))
	}
	e.Close()

	require.Len(t, order, 100)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestKeyedExecutor_ParallelAcrossKeys(t *testing.T) {
	e := NewKeyedExecutor()
	defer e.Close()

	// The first task cannot finish until the second runs. If keys
	// shared a queue this would deadlock.
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, e.Submit("key-a", func() {
		close(started)
		<-release
	}))
	require.NoError(t, e.Submit("key-b", func() {
		<-started
		close(release)
	}))

	done := make(chan struct{})
	go func() {
		<-release
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks on distinct keys did not run concurrently")
	}
}

func TestKeyedExecutor_ExecuteWaitsForTask(t *testing.T) {
	e := NewKeyedExecutor()
	defer e.Close()

	ran := false
	err := e.Execute(context.Background(), "key", func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestKeyedExecutor_ExecuteHonorsContext(t *testing.T) {
	e := NewKeyedExecutor()

	block := make(chan struct{})
	require.NoError(t, e.Submit("key", func() { <-block }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Execute(ctx, "key", func() {})
	assert.Error(t, err)

	close(block)
	e.Close()
}

func TestKeyedExecutor_ClosedRejectsSubmit(t *testing.T) {
	e := NewKeyedExecutor()
	e.Close()
	assert.Error(t, e.Submit("key", func() {}))
}

func TestKeyedExecutor_ConcurrentSubmitters(t *testing.T) {
	e := NewKeyedExecutor()

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d"}
	for _, key := range keys {
		for i := 0; i < 50; i++ {
			key := key
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = e.Submit(key, func() {
					mu.Lock()
					counts[key]++
					mu.Unlock()
				})
			}()
		}
	}
	wg.Wait()
	e.Close()

	for _, key := range keys {
		assert.Equal(t, 50, counts[key])
	}
}
