package messaging

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/pkg/logger"
	"github.com/skillforge/mastery-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher routes events to named handlers with panic recovery,
// per-handler retry, and a dead letter queue for events whose handlers
// kept failing. The worker processes (cache maintenance, read models)
// consume events through it rather than subscribing to the bus
// directly.
type Dispatcher struct {
	eventBus   shared.EventBus
	handlers   map[shared.EventType][]HandlerRegistration
	retrier    *retry.Retrier
	deadLetter *DeadLetterQueue
	log        *logger.Logger
	mu         sync.RWMutex
}

// HandlerRegistration names a handler so dead-lettered events say
// which consumer gave up.
type HandlerRegistration struct {
	Name    string
	Handler shared.EventHandler
	Timeout time.Duration
}

// DispatcherConfig wires the dispatcher to a bus.
type DispatcherConfig struct {
	// EventBus is the bus to consume from.
	EventBus shared.EventBus

	// DeadLetterQueueSize caps stored failed events. Zero disables
	// the queue.
	DeadLetterQueueSize int

	Logger *logger.Logger
}

// NewDispatcher builds a dispatcher with a three-attempt retrier.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}

	d := &Dispatcher{
		eventBus: config.EventBus,
		handlers: make(map[shared.EventType][]HandlerRegistration),
		retrier: retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(100*time.Millisecond),
			retry.WithMaxDelay(5*time.Second),
			retry.WithRetryIf(func(error) bool { return true }),
		),
		log: config.Logger.With(logger.Component("dispatcher")),
	}
	if config.DeadLetterQueueSize > 0 {
		d.deadLetter = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// Register adds a named handler for one event type.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if name == "" {
		return fmt.Errorf("handler for %s needs a name", eventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerRegistration{
		Name:    name,
		Handler: handler,
		Timeout: 30 * time.Second,
	})
	return nil
}

// Start subscribes the dispatcher to its bus.
func (d *Dispatcher) Start() error {
	return d.eventBus.SubscribeAll(d.Dispatch)
}

// Dispatch routes one event to every registered handler for its type.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType()]
	d.mu.RUnlock()

	for _, reg := range handlers {
		if err := d.executeHandler(event, reg); err != nil {
			d.log.Error("handler exhausted retries",
				logger.Err(err),
				logger.String("handler", reg.Name),
				logger.String("event_type", string(event.EventType())),
			)
			if d.deadLetter != nil {
				d.deadLetter.Add(DeadLetterEntry{
					Event:       event,
					HandlerName: reg.Name,
					Error:       err,
					FailedAt:    time.Now().UTC(),
				})
			}
		}
	}
	return nil
}

func (d *Dispatcher) executeHandler(event shared.Event, reg HandlerRegistration) error {
	ctx, cancel := context.WithTimeout(context.Background(), reg.Timeout)
	defer cancel()

	return d.retrier.Do(ctx, func(context.Context) error {
		return d.safeCall(event, reg)
	})
}

// safeCall invokes the handler with panic recovery; a panicking
// subscriber must never take the dispatch loop down.
func (d *Dispatcher) safeCall(event shared.Event, reg HandlerRegistration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic recovered",
				logger.String("handler", reg.Name),
				logger.String("event_type", string(event.EventType())),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return reg.Handler(event)
}

// DeadLetterQueue returns the queue of events that exhausted retries,
// nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetter
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is one event a handler could not process.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	FailedAt    time.Time
}

// DeadLetterQueue stores failed events up to a capacity, dropping the
// oldest entry when full.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue with the given capacity.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry, evicting the oldest at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Size is the number of queued entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Pop takes the oldest entry off the queue, reporting false when
// empty.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}
