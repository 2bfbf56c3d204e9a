package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPop(t *testing.T) {
	t.Run("fifo_order_single_producer", func(t *testing.T) {
		q := New[int](4)
		for i := 0; i < 4; i++ {
			require.NoError(t, q.Push(i))
		}
		for i := 0; i < 4; i++ {
			v, ok := q.Pop()
			require.True(t, ok)
			assert.Equal(t, i, v)
		}
	})

	t.Run("size_never_exceeds_capacity", func(t *testing.T) {
		q := New[int](1)
		require.NoError(t, q.Push(1))
		assert.Equal(t, 1, q.Len())
		assert.Equal(t, 1, q.Capacity())
	})
}

func TestPushBlocksAtCapacity(t *testing.T) {
	// N=1, C=1: push A, then push B (blocks); pop yields A; B unblocks.
	q := New[string](1)
	require.NoError(t, q.Push("A"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, q.Push("B"))
	}()

	select {
	case <-done:
		t.Fatal("push B should have blocked while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "A", v)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push B should have unblocked after pop")
	}

	assert.Equal(t, 1, q.Len())
}

func TestPopBlocksOnEmpty(t *testing.T) {
	q := New[int](2)
	popped := make(chan int, 1)
	go func() {
		v, ok := q.Pop()
		require.True(t, ok)
		popped <- v
	}()

	select {
	case <-popped:
		t.Fatal("pop should have blocked on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Push(7))
	select {
	case v := <-popped:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("pop should have unblocked after push")
	}
}

func TestShutdown(t *testing.T) {
	t.Run("push_after_shutdown_fails", func(t *testing.T) {
		q := New[int](2)
		q.Shutdown()
		assert.ErrorIs(t, q.Push(1), ErrShutDown)
	})

	t.Run("pop_drains_then_reports_false", func(t *testing.T) {
		q := New[int](4)
		require.NoError(t, q.Push(1))
		require.NoError(t, q.Push(2))
		q.Shutdown()

		v, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, 1, v)

		v, ok = q.Pop()
		assert.True(t, ok)
		assert.Equal(t, 2, v)

		_, ok = q.Pop()
		assert.False(t, ok)
	})

	t.Run("idempotent", func(t *testing.T) {
		q := New[int](1)
		q.Shutdown()
		q.Shutdown()
		assert.True(t, q.ShuttingDown())
	})

	t.Run("wakes_blocked_push", func(t *testing.T) {
		q := New[int](1)
		require.NoError(t, q.Push(1))

		errc := make(chan error, 1)
		go func() { errc <- q.Push(2) }()

		time.Sleep(20 * time.Millisecond)
		q.Shutdown()

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrShutDown)
		case <-time.After(time.Second):
			t.Fatal("shutdown should wake a blocked push")
		}
	})

	t.Run("wakes_blocked_pop", func(t *testing.T) {
		q := New[int](1)
		resc := make(chan bool, 1)
		go func() {
			_, ok := q.Pop()
			resc <- ok
		}()

		time.Sleep(20 * time.Millisecond)
		q.Shutdown()

		select {
		case ok := <-resc:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("shutdown should wake a blocked pop")
		}
	})
}

func TestConcurrentProducersConsumers(t *testing.T) {
	q := New[int](8)
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			require.NoError(t, q.Push(i))
		}
	}()

	got := make([]int, 0, n)
	for len(got) < n {
		v, ok := q.Pop()
		require.True(t, ok)
		got = append(got, v)
	}
	wg.Wait()

	for i, v := range got {
		assert.Equal(t, i, v, "per-producer order must be preserved")
	}
}
