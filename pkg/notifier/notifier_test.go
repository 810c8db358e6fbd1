package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Publish(t *testing.T) {
	t.Parallel()

	t.Run("delivers to subscribers in subscription order", func(t *testing.T) {
		t.Parallel()

		n := New[int]()
		defer n.Close()

		var got []string
		n.Subscribe(func(int) { got = append(got, "first") })
		n.Subscribe(func(int) { got = append(got, "second") })
		n.Subscribe(func(int) { got = append(got, "third") })

		n.Publish(1)

		assert.Equal(t, []string{"first", "second", "third"}, got)
	})

	t.Run("panicking subscriber does not stop the rest", func(t *testing.T) {
		t.Parallel()

		n := New[int]()
		defer n.Close()

		var calls int
		n.Subscribe(func(int) { panic("boom") })
		n.Subscribe(func(int) { calls++ })

		assert.NotPanics(t, func() { n.Publish(1) })
		assert.Equal(t, 1, calls)
	})

	t.Run("unsubscribed handler no longer receives", func(t *testing.T) {
		t.Parallel()

		n := New[int]()
		defer n.Close()

		var calls int
		sub := n.Subscribe(func(int) { calls++ })
		n.Publish(1)
		n.Unsubscribe(sub)
		n.Publish(2)

		assert.Equal(t, 1, calls)
	})

	t.Run("no replay to late subscribers", func(t *testing.T) {
		t.Parallel()

		n := New[int]()
		defer n.Close()

		n.Publish(1)

		var calls int
		n.Subscribe(func(int) { calls++ })
		assert.Zero(t, calls)
	})

	t.Run("publish after close is a no-op", func(t *testing.T) {
		t.Parallel()

		n := New[int]()

		var calls int
		n.Subscribe(func(int) { calls++ })
		n.Close()
		n.Publish(1)

		assert.Zero(t, calls)
	})

	t.Run("concurrent publishers are serialized", func(t *testing.T) {
		t.Parallel()

		n := New[int]()
		defer n.Close()

		var mu sync.Mutex
		var got []int
		n.Subscribe(func(v int) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n.Publish(i)
			}()
		}
		wg.Wait()

		assert.Len(t, got, 10)
	})
}

func TestNotifier_Events(t *testing.T) {
	t.Parallel()

	t.Run("bridges published values to a channel", func(t *testing.T) {
		t.Parallel()

		n := New[string]()
		defer n.Close()

		ch := n.Events(context.Background(), 4)
		n.Publish("a")
		n.Publish("b")

		require.Equal(t, "a", <-ch)
		require.Equal(t, "b", <-ch)
	})

	t.Run("context cancellation removes the subscription", func(t *testing.T) {
		t.Parallel()

		n := New[string]()
		defer n.Close()

		ctx, cancel := context.WithCancel(context.Background())
		ch := n.Events(ctx, 1)
		cancel()

		// Give the cleanup goroutine a moment to run.
		assert.Eventually(t, func() bool {
			n.Publish("dropped")
			select {
			case <-ch:
				return false
			default:
				return true
			}
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("full buffer drops instead of blocking", func(t *testing.T) {
		t.Parallel()

		n := New[int]()
		defer n.Close()

		ch := n.Events(context.Background(), 1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			n.Publish(1)
			n.Publish(2) // dropped, buffer full
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on a full subscriber buffer")
		}

		assert.Equal(t, 1, <-ch)
	})
}
