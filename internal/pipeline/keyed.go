// Package pipeline drives a submission through its processing stages
// and commits the outcome. Work is serialized per (student, skill) so
// concurrent submissions for the same pair apply in ingestion order
// while unrelated pairs proceed in parallel.
package pipeline

import (
	"context"
	"sync"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// KeyedExecutor runs tasks with per-key FIFO ordering. Tasks sharing a
// key execute one at a time in submission order; tasks on different
// keys run concurrently, each key on its own drainer goroutine that
// exits when its queue empties.
type KeyedExecutor struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
	closed bool
}

// NewKeyedExecutor creates an executor.
func NewKeyedExecutor() *KeyedExecutor {
	return &KeyedExecutor{queues: make(map[string][]func())}
}

// Submit enqueues a task for the key. It never blocks on the task.
func (e *KeyedExecutor) Submit(key string, task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return shared.WrapError("pipeline", "Submit", shared.ErrInvalidState, "executor is closed", nil)
	}

	_, running := e.queues[key]
	e.queues[key] = append(e.queues[key], task)
	if !running {
		e.wg.Add(1)
		go e.drain(key)
	}
	return nil
}

// drain executes the key's queue in order and removes the queue once
// empty. Queue presence in the map doubles as the "drainer running"
// flag, so only one drainer ever exists per key.
func (e *KeyedExecutor) drain(key string) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		queue := e.queues[key]
		if len(queue) == 0 {
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		task := queue[0]
		e.queues[key] = queue[1:]
		e.mu.Unlock()

		task()
	}
}

// Execute runs the task on the key's queue and waits for it to finish.
// If ctx expires first, Execute returns early but the task still runs
// in its turn; callers must not capture ctx-scoped state in it.
func (e *KeyedExecutor) Execute(ctx context.Context, key string, task func()) error {
	done := make(chan struct{})
	err := e.Submit(key, func() {
		defer close(done)
		task()
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return shared.WrapError("pipeline", "Execute", shared.ErrTimeout, "gave up waiting for serialized task", ctx.Err())
	}
}

// Close stops accepting tasks and waits for queued work to finish.
func (e *KeyedExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
