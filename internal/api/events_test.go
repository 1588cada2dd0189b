package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHub(t *testing.T) {
	hub := NewEventHub(1)

	first, stopFirst := hub.Subscribe()
	second, stopSecond := hub.Subscribe()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(EventError, "boom")
	assert.Equal(t, Event{Name: EventError, Data: "boom"}, <-first)
	assert.Equal(t, Event{Name: EventError, Data: "boom"}, <-second)

	hub.Publish(EventProducts, 1)
	hub.Publish(EventProducts, 2)
	assert.Equal(t, 1, (<-first).Data, "a full stream drops newer events")

	stopSecond()
	stopSecond()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-second
	require.True(t, open, "buffered event is still readable")
	_, open = <-second
	assert.False(t, open)

	stopFirst()
	assert.Zero(t, hub.Subscribers())
	hub.Publish(EventPurchase, nil)
}
