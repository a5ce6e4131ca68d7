// Package messaging implements the engine's event buses. The in-memory
// bus serves single-instance deployments and tests; the Redis bus
// fans events out to every engine instance so caches and read models
// stay coherent across a fleet.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// DefaultChannelName is the Redis channel events travel on.
const DefaultChannelName = "mastery-engine:events"

var (
	// ErrEventBusClosed rejects operations on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilHandler rejects subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent rejects publishing a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures the process-local bus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on background goroutines. Synchronous
	// mode exists for tests that need deterministic ordering.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent handler executions.
	WorkerPoolSize int

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultInMemoryEventBusConfig returns async delivery with a pool of 10.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// InMemoryEventBus is a process-local shared.EventBus. Handlers run on
// a bounded worker pool so a slow subscriber cannot stall the attempt
// pipeline's publish path. Handler errors are logged, never returned:
// by the time events flow the attempt is already committed.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	subs     map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed   bool

	inline bool
	sem    chan struct{}
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewInMemoryEventBus creates a bus from config.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	return &InMemoryEventBus{
		subs:   make(map[shared.EventType][]shared.EventHandler),
		inline: !config.AsyncMode,
		sem:    make(chan struct{}, config.WorkerPoolSize),
		log:    config.Logger.With(logger.Component("eventbus")),
	}
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.subs[eventType] = append(b.subs[eventType], handler)
	return nil
}

// SubscribeAll registers a handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.catchAll = append(b.catchAll, handler)
	return nil
}

// Publish delivers event to every matching handler.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.subs[event.EventType()]
	handlers := make([]shared.EventHandler, 0, len(typed)+len(b.catchAll))
	handlers = append(handlers, typed...)
	handlers = append(handlers, b.catchAll...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if b.inline {
			b.invoke(event, h)
			continue
		}
		b.wg.Add(1)
		go b.dispatch(event, h)
	}
	return nil
}

// dispatch runs one handler under the pool semaphore. It never bails
// out early: an event accepted by Publish is delivered even when Close
// arrives while the goroutine is still queued for a slot. Close blocks
// on the wait group until every queued handler has run.
func (b *InMemoryEventBus) dispatch(event shared.Event, h shared.EventHandler) {
	defer b.wg.Done()

	b.sem <- struct{}{}
	defer func() { <-b.sem }()
	b.invoke(event, h)
}

func (b *InMemoryEventBus) invoke(event shared.Event, h shared.EventHandler) {
	if err := h(event); err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

// Close stops accepting events and waits until every handler already
// accepted by Publish has run.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.log.Info("event bus closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the Pub/Sub surface the bus needs from Redis.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures the cross-instance bus.
type RedisEventBusConfig struct {
	Client         RedisClient
	ChannelName    string
	InstanceID     string
	LocalBusConfig InMemoryEventBusConfig
	Logger         *logger.Logger
}

// RedisEventBus layers Redis Pub/Sub over a local in-memory bus.
// Events published here reach local subscribers directly and remote
// instances through the channel; self-published messages are filtered
// by instance ID so local handlers never run twice.
type RedisEventBus struct {
	client   redisTransport
	local    *InMemoryEventBus
	channel  string
	instance string
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// redisTransport narrows RedisClient to what the bus calls after setup.
type redisTransport interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// NewRedisEventBus builds the bus and starts its subscription loop.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannelName
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:   config.Client,
		local:    NewInMemoryEventBus(config.LocalBusConfig),
		channel:  config.ChannelName,
		instance: config.InstanceID,
		log:      config.Logger.With(logger.Component("redis-eventbus")),
		ctx:      ctx,
		cancel:   cancel,
	}

	messages, err := config.Client.Subscribe(ctx, config.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start subscriber: %w", err)
	}
	b.wg.Add(1)
	go b.listen(messages)
	return b, nil
}

// Subscribe registers a handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish sends an event to Redis and to local handlers. A Redis
// failure degrades to local-only delivery rather than failing the
// publish: the attempt is already committed by the time events flow.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrEventBusClosed
	}
	b.mu.Unlock()

	data, err := json.Marshal(wireEnvelope{
		InstanceID:  b.instance,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.log.Error("redis publish failed, delivering locally only", logger.Err(err))
	}
	return b.local.Publish(event)
}

// listen pumps remote messages into the local bus until Close.
func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.log.Error("redis subscription error", logger.Err(msg.Err))
				continue
			}
			b.deliverRemote(msg.Payload)
		}
	}
}

func (b *RedisEventBus) deliverRemote(payload string) {
	var envelope wireEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		b.log.Error("failed to unmarshal remote event", logger.Err(err))
		return
	}
	if envelope.InstanceID == b.instance {
		return
	}

	err := b.local.Publish(&remoteEvent{
		eventType:   envelope.EventType,
		aggregateID: envelope.AggregateID,
		occurredAt:  envelope.OccurredAt,
		payload:     envelope.Payload,
	})
	if err != nil {
		b.log.Error("failed to process remote event", logger.Err(err))
	}
}

// Close stops the subscription loop and drains local handlers.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	if err := b.local.Close(); err != nil {
		b.log.Error("failed to close local bus", logger.Err(err))
	}
	return nil
}

// wireEnvelope is the serialized form an event travels in.
type wireEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// remoteEvent recreates an event received over the wire. Subscribers
// of remote events read the payload map; the typed event structs only
// exist on the publishing instance.
type remoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

func (e *remoteEvent) EventType() shared.EventType     { return e.eventType }
func (e *remoteEvent) AggregateID() string             { return e.aggregateID }
func (e *remoteEvent) OccurredAt() time.Time           { return e.occurredAt }
func (e *remoteEvent) Payload() map[string]interface{} { return e.payload }
