package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestTypedSubscription(t *testing.T) {
	b := NewBus()
	tells := b.Subscribe(TellReceived)
	defer b.Unsubscribe(tells)

	b.Emit(ChannelMessage, map[string]interface{}{"channel": "intergossip"})
	b.Emit(TellReceived, map[string]interface{}{"from_user": "alice"})

	ev := recvEvent(t, tells)
	assert.Equal(t, TellReceived, ev.Type)
	assert.Equal(t, "alice", ev.Data["from_user"])
	assert.NotEmpty(t, ev.ID)
	select {
	case extra := <-tells:
		t.Fatalf("unexpected event %v", extra)
	default:
	}
}

func TestAllSubscription(t *testing.T) {
	b := NewBus()
	all := b.Subscribe()
	defer b.Unsubscribe(all)

	b.Emit(Connected, nil)
	b.Emit(Disconnected, nil)
	assert.Equal(t, Connected, recvEvent(t, all).Type)
	assert.Equal(t, Disconnected, recvEvent(t, all).Type)
}

func TestUnsubscribeCloses(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TellReceived)
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	b.bufferSize = 1
	ch := b.Subscribe(TellReceived)
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Emit(TellReceived, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}
