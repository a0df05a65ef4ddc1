package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_FanOut(t *testing.T) {
	bus := NewBus()
	first, unsubFirst := bus.Subscribe()
	second, unsubSecond := bus.Subscribe()
	defer unsubSecond()

	bus.Publish(Event{Type: TypeJobCompleted, Subject: "job-1"})

	for _, ch := range []<-chan Event{first, second} {
		e := <-ch
		assert.Equal(t, TypeJobCompleted, e.Type)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}

	unsubFirst()
	_, open := <-first
	assert.False(t, open, "unsubscribe closes the channel")

	unsubFirst()
}

func TestInMemoryBus_DropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	for range subscriberBuffer + 5 {
		bus.Publish(Event{Type: TypeJobStarted})
	}

	require.Len(t, ch, subscriberBuffer)
	assert.Equal(t, int64(5), bus.Dropped())
}

func TestType_Terminal(t *testing.T) {
	assert.True(t, TypeJobCompleted.Terminal())
	assert.True(t, TypeJobFailed.Terminal())
	assert.False(t, TypeJobStarted.Terminal())
}
