package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub.ID)

	b.Publish(SessionCreated, map[string]string{"id": "s1"})
	b.Publish(SessionUpdated, map[string]string{"id": "s1"})
	b.Publish(SessionStopped, map[string]string{"id": "s1"})

	var got []EventType
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.C:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []EventType{SessionCreated, SessionUpdated, SessionStopped}, got)
}

func TestBusFansOutToAllSubscribers(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer b.Unsubscribe(s1.ID)
	defer b.Unsubscribe(s2.ID)

	b.Publish(TunnelStarted, map[string]string{"url": "https://x.example"})

	for _, sub := range []*Subscriber{s1, s2} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, TunnelStarted, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusSeqIsMonotonic(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub.ID)

	b.Publish(WindowCreated, nil)
	b.Publish(WindowStopped, nil)

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, first.Seq+1, second.Seq)
	assert.NotEmpty(t, first.ID)
	assert.NotZero(t, first.Timestamp)
}

func TestBusIgnoresEmptyEventType(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub.ID)

	b.Publish("", "dropped")
	b.Publish(PortsList, nil)

	ev := <-sub.C
	assert.Equal(t, PortsList, ev.Type)
}

func TestBusAfterReturnsEventsPastCursor(t *testing.T) {
	b := NewBus()

	b.Publish(SessionCreated, nil)
	b.Publish(SessionUpdated, nil)
	cursor := b.Cursor()
	b.Publish(SessionStopped, nil)

	buffered, _ := b.After(cursor)
	require.Len(t, buffered, 1)
	assert.Equal(t, SessionStopped, buffered[0].Type)

	all, _ := b.After(0)
	assert.Len(t, all, 3)
}

func TestBusAfterWakesOnPublish(t *testing.T) {
	b := NewBus()

	buffered, wake := b.After(b.Cursor())
	assert.Empty(t, buffered)

	go b.Publish(SessionCreated, nil)

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("wake channel never closed")
	}

	buffered, _ = b.After(0)
	require.Len(t, buffered, 1)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	b.Unsubscribe(sub.ID)

	_, open := <-sub.C
	assert.False(t, open)

	// Double unsubscribe must not panic
	b.Unsubscribe(sub.ID)
}
