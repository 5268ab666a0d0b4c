package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, reason := range []string{"load", "add", "delete"} {
		require.True(t, q.Enqueue(Event{Type: EventTypeRefresh, Reason: reason}))
	}

	for _, want := range []string{"load", "add", "delete"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.Reason)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_WaitSignalsOnEnqueue(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Enqueue(Event{Type: EventTypeVariables, Keys: []string{"var-region"}})
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait did not signal")
	}
	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventTypeVariables, got.Type)
	assert.Equal(t, []string{"var-region"}, got.Keys)
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(Event{Type: EventTypeRefresh}), "enqueue after close should return false")
	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue should wake waiters")
	}
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(Event{Type: EventTypeRefresh})
	q.Enqueue(Event{Type: EventTypeRefresh})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	q := newEventQueue()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(Event{Type: EventTypeRefresh})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "refresh", EventTypeRefresh.String())
	assert.Equal(t, "variables", EventTypeVariables.String())
	assert.Equal(t, "unknown", EventType(0).String())
}
