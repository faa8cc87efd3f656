package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := NewEventBus(nil)
	ch := bus.Subscribe("slow", 1)

	bus.Publish(Event{Type: EventStateChanged, State: StateRequesting})
	bus.Publish(Event{Type: EventStateChanged, State: StateActive})

	ev := <-ch
	assert.Equal(t, StateRequesting, ev.State)
	assert.False(t, ev.Time.IsZero())
	assert.Empty(t, ch)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	first := bus.Subscribe("a", 1)
	second := bus.Subscribe("a", 1)

	_, ok := <-first
	assert.False(t, ok, "replaced subscription must be closed")

	bus.Unsubscribe("a")
	_, ok = <-second
	assert.False(t, ok)

	// Unknown ids and publishing without subscribers are fine.
	bus.Unsubscribe("missing")
	bus.Publish(Event{Type: EventWarning})
}

func TestEventBusClose(t *testing.T) {
	bus := NewEventBus(nil)
	a := bus.Subscribe("a", 4)
	b := bus.Subscribe("b", 4)

	bus.Publish(Event{Type: EventStopped, Reason: ReasonRequested})
	bus.Close()

	ev, ok := <-a
	require.True(t, ok)
	assert.Equal(t, ReasonRequested, ev.Reason)
	_, ok = <-a
	assert.False(t, ok)

	<-b
	_, ok = <-b
	assert.False(t, ok)
}

func TestStateMarshalText(t *testing.T) {
	text, err := StateStopping.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "stopping", string(text))
	assert.Equal(t, "state(9)", State(9).String())
}

func TestStateUnmarshalText(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("active")))
	assert.Equal(t, StateActive, s)
	require.Error(t, s.UnmarshalText([]byte("paused")))
}
