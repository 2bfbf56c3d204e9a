package simulate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/cpubalancer/pkg/clockz"
	"github.com/ja7ad/cpubalancer/pkg/task"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	count int
}

func (r *recordingSubmitter) Submit(payload task.Runnable, arg any, priority task.Priority) (*task.Task, error) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	return task.New(payload, arg, priority), nil
}

func (r *recordingSubmitter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestDriverGeneratesTasksAtMaxRate(t *testing.T) {
	fc := clockz.NewFake()
	sub := &recordingSubmitter{}
	d := New(Config{
		Duration:     1 * time.Second,
		TaskRate:     10.0, // threshold 1.0: every tick generates a task
		MinWorkload:  time.Millisecond,
		MaxWorkload:  2 * time.Millisecond,
		PollInterval: 100 * time.Millisecond,
	}, sub, fc, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond) // let the goroutine register its first timer

	for i := 0; i < 10; i++ {
		fc.Advance(100 * time.Millisecond)
		fc.BlockUntilReady()
		time.Sleep(5 * time.Millisecond) // let the goroutine process the tick
	}

	require.NoError(t, <-done)
	assert.Equal(t, 10, d.Submitted())
	assert.Equal(t, 10, sub.Count())
}

func TestDriverStopsOnContextCancellation(t *testing.T) {
	fc := clockz.NewFake()
	sub := &recordingSubmitter{}
	d := New(Config{
		Duration:     time.Hour,
		TaskRate:     10.0,
		PollInterval: 100 * time.Millisecond,
	}, sub, fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(10 * time.Millisecond) // let the goroutine register its first timer
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop after cancellation")
	}
}
