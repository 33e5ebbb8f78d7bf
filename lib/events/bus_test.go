package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()

	sub := bus.Subscribe("account/1")
	defer sub.Close()
	other := bus.Subscribe("account/2")
	defer other.Close()

	bus.Publish("account/1", "progress", "hello")

	select {
	case msg := <-sub.C:
		require.Equal(t, "account/1", msg.Topic)
		require.Equal(t, "progress", msg.Kind)
		require.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-other.C:
		t.Fatalf("message leaked across topics: %+v", msg)
	default:
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("account/none", "progress", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("publish blocked")
	}
}

func TestCloseRemovesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("account/1")
	sub.Close()
	sub.Close() // double close is fine

	bus.Publish("account/1", "progress", "after close")

	_, open := <-sub.C
	require.False(t, open)
}
