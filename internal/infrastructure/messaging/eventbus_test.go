package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_DeliversToTypedAndCatchAll(t *testing.T) {
	bus := syncBus()
	defer func() { _ = bus.Close() }()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventMasteryChanged, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	event := shared.NewMasteryChangedEvent("s-1", "algebra", 0.3, 0.5, 0.4, "attempt-1", false, time.Now())
	require.NoError(t, bus.Publish(event))
	require.NoError(t, bus.Publish(shared.NewDegradedModeEnteredEvent("pipeline", "inference timeouts")))

	assert.Equal(t, []shared.EventType{shared.EventMasteryChanged}, typed)
	assert.Len(t, all, 2)
}

func TestInMemoryEventBus_RejectsAfterClose(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewDegradedModeExitedEvent("pipeline"))
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventMasteryChanged, func(shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestInMemoryEventBus_NilGuards(t *testing.T) {
	bus := syncBus()
	defer func() { _ = bus.Close() }()

	assert.ErrorIs(t, bus.Subscribe(shared.EventMasteryChanged, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestInMemoryEventBus_AsyncCloseWaitsForHandlers(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg)

	var mu sync.Mutex
	handled := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(shared.NewDegradedModeEnteredEvent("pipeline", "inference timeouts")))
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, handled, "events accepted before Close must all be delivered")
}

// fakeTransport captures published payloads and feeds a message
// channel the bus subscribes to.
type fakeTransport struct {
	mu        sync.Mutex
	published []string
	incoming  chan RedisMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan RedisMessage, 8)}
}

func (f *fakeTransport) Publish(_ context.Context, _ string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, message.(string))
	return nil
}

func (f *fakeTransport) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return f.incoming, nil
}

func (f *fakeTransport) Close() error { return nil }

func TestRedisEventBus_PublishesEnvelopeAndDeliversLocally(t *testing.T) {
	transport := newFakeTransport()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         transport,
		InstanceID:     "instance-a",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	var local int
	require.NoError(t, bus.Subscribe(shared.EventMasteryChanged, func(shared.Event) error {
		local++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewMasteryChangedEvent("s-1", "algebra", 0.3, 0.5, 0.4, "attempt-1", false, time.Now())))
	assert.Equal(t, 1, local)

	transport.mu.Lock()
	require.Len(t, transport.published, 1)
	var envelope wireEnvelope
	require.NoError(t, json.Unmarshal([]byte(transport.published[0]), &envelope))
	transport.mu.Unlock()

	assert.Equal(t, "instance-a", envelope.InstanceID)
	assert.Equal(t, shared.EventMasteryChanged, envelope.EventType)
}

func TestRedisEventBus_FiltersOwnMessages(t *testing.T) {
	transport := newFakeTransport()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         transport,
		InstanceID:     "instance-a",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	seen := make(chan string, 2)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen <- e.AggregateID()
		return nil
	}))

	send := func(instance, aggregate string) {
		data, err := json.Marshal(wireEnvelope{
			InstanceID:  instance,
			EventType:   shared.EventMasteryChanged,
			AggregateID: aggregate,
			OccurredAt:  time.Now(),
		})
		require.NoError(t, err)
		transport.incoming <- RedisMessage{Payload: string(data)}
	}

	send("instance-a", "self")
	send("instance-b", "remote")

	select {
	case id := <-seen:
		assert.Equal(t, "remote", id)
	case <-time.After(time.Second):
		t.Fatal("remote event never delivered")
	}
	select {
	case id := <-seen:
		t.Fatalf("unexpected second delivery: %s", id)
	case <-time.After(20 * time.Millisecond):
	}
}
