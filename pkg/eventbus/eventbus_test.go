package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch1, cancel1 := b.Subscribe(context.Background(), 4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(context.Background(), 4)
	defer cancel2()

	b.Publish(Event{Kind: KindPut, Key: "a/b", Value: []byte("v")})

	select {
	case e := <-ch1:
		require.Equal(t, KindPut, e.Kind)
		require.Equal(t, "a/b", e.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch1")
	}

	select {
	case e := <-ch2:
		require.Equal(t, KindPut, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch2")
	}
}

func TestBus_CancelUnsubscribesAndClosesChannel(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, cancel := b.Subscribe(context.Background(), 1)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}
}

func TestBus_FullMailboxDropsRatherThanBlocks(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, cancel := b.Subscribe(context.Background(), 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindPut, Key: "k"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber mailbox")
	}
	<-ch
}
