package gatehouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventEmitterOrderAndFanout(t *testing.T) {
	t.Parallel()

	emitter := NewEventEmitter(testLogger())

	order := make([]string, 0)

	emitter.On(EventTypeMessageCreate, func(_ context.Context, _ *Event) {
		order = append(order, "typed-1")
	})
	emitter.On(EventTypeMessageCreate, func(_ context.Context, _ *Event) {
		order = append(order, "typed-2")
	})
	emitter.On(EventTypeMessageDelete, func(_ context.Context, _ *Event) {
		order = append(order, "other")
	})
	emitter.OnAny(func(_ context.Context, _ *Event) {
		order = append(order, "any")
	})

	emitter.Emit(context.Background(), &Event{Type: EventTypeMessageCreate})

	// Typed listeners run in registration order, then the catch-all.
	assert.Equal(t, []string{"typed-1", "typed-2", "any"}, order)
}

func TestEventEmitterRecoversListenerPanic(t *testing.T) {
	t.Parallel()

	emitter := NewEventEmitter(testLogger())

	called := false

	emitter.On(EventTypeMessageCreate, func(_ context.Context, _ *Event) {
		panic("listener blew up")
	})
	emitter.On(EventTypeMessageCreate, func(_ context.Context, _ *Event) {
		called = true
	})

	emitter.Emit(context.Background(), &Event{Type: EventTypeMessageCreate})

	// The panic is contained, later listeners still run.
	assert.True(t, called)
}
