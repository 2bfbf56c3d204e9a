package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/cpubalancer/pkg/clockz"
	"github.com/ja7ad/cpubalancer/pkg/cpumonitor"
	"github.com/ja7ad/cpubalancer/pkg/queue"
	"github.com/ja7ad/cpubalancer/pkg/task"
)

type fakeInFlight struct {
	n  atomic.Int64
	mu sync.Mutex
	cv *sync.Cond
}

func newFakeInFlight() *fakeInFlight {
	f := &fakeInFlight{}
	f.cv = sync.NewCond(&f.mu)
	return f
}

func (f *fakeInFlight) Inc() { f.n.Add(1) }
func (f *fakeInFlight) Dec() {
	if f.n.Add(-1) == 0 {
		f.mu.Lock()
		f.cv.Broadcast()
		f.mu.Unlock()
	}
}

func (f *fakeInFlight) waitZero(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.n.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight counter never reached zero, stuck at %d", f.n.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

type alwaysRunning struct{}

func (alwaysRunning) Running() bool { return true }

type toggleRunning struct {
	v atomic.Bool
}

func (r *toggleRunning) Running() bool { return r.v.Load() }

type noopPinner struct{}

func (noopPinner) Pin(int) error { return nil }

type failingPinner struct{}

func (failingPinner) Pin(int) error { return ErrAffinityUnsupported }

func newMonitor(n int) *cpumonitor.CpuMonitor {
	src := &constSource{}
	m := cpumonitor.New(cpumonitor.Config{NumCPUs: n, LoadHistorySize: 4}, src, clockz.Real, nil, nil)
	return m
}

type constSource struct{}

func (constSource) Sample(n int) ([]*cpumonitor.RawSample, error) {
	out := make([]*cpumonitor.RawSample, n)
	for i := range out {
		out[i] = &cpumonitor.RawSample{User: 0, Idle: 100}
	}
	return out, nil
}

func TestDispatcherRunsTaskToCompletion(t *testing.T) {
	q := queue.New[*task.Task](4)
	m := newMonitor(2)
	inFlight := newFakeInFlight()

	var ran atomic.Bool
	d := New(q, m, inFlight, alwaysRunning{}, clockz.Real, nil, nil, Config{Pinner: noopPinner{}})

	go d.Run()

	tk := task.New(task.RunnableFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}), nil, task.Medium)
	require.NoError(t, q.Push(tk))

	inFlight.waitZero(t)
	q.Shutdown()
	time.Sleep(10 * time.Millisecond)

	assert.True(t, ran.Load())
	assert.Equal(t, task.Completed, tk.Status)
	assert.GreaterOrEqual(t, tk.AssignedCPU, 0)
}

func TestDispatcherFailsTaskWhenNotRunning(t *testing.T) {
	q := queue.New[*task.Task](4)
	m := newMonitor(2)
	inFlight := newFakeInFlight()

	running := &toggleRunning{}
	running.v.Store(false)

	d := New(q, m, inFlight, running, clockz.Real, nil, nil, Config{Pinner: noopPinner{}})
	go d.Run()

	tk := task.New(task.RunnableFunc(func(ctx context.Context) error { return nil }), nil, task.Low)
	require.NoError(t, q.Push(tk))

	deadline := time.Now().Add(2 * time.Second)
	for tk.Status == task.Pending {
		if time.Now().After(deadline) {
			t.Fatal("task never transitioned out of pending")
		}
		time.Sleep(time.Millisecond)
	}

	q.Shutdown()
	assert.Equal(t, task.Failed, tk.Status)
	assert.Equal(t, task.UnassignedCPU, tk.AssignedCPU)
}

func TestDispatcherRecoversPayloadPanic(t *testing.T) {
	q := queue.New[*task.Task](4)
	m := newMonitor(2)
	inFlight := newFakeInFlight()

	d := New(q, m, inFlight, alwaysRunning{}, clockz.Real, nil, nil, Config{Pinner: noopPinner{}})
	go d.Run()

	tk := task.New(task.RunnableFunc(func(ctx context.Context) error {
		panic("boom")
	}), nil, task.High)
	require.NoError(t, q.Push(tk))

	inFlight.waitZero(t)
	q.Shutdown()
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, task.Failed, tk.Status)
}

func TestDispatcherPayloadErrorMarksFailed(t *testing.T) {
	q := queue.New[*task.Task](4)
	m := newMonitor(2)
	inFlight := newFakeInFlight()

	d := New(q, m, inFlight, alwaysRunning{}, clockz.Real, nil, nil, Config{Pinner: noopPinner{}})
	go d.Run()

	tk := task.New(task.RunnableFunc(func(ctx context.Context) error {
		return errors.New("payload failure")
	}), nil, task.Medium)
	require.NoError(t, q.Push(tk))

	inFlight.waitZero(t)
	q.Shutdown()
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, task.Failed, tk.Status)
}

func TestDispatcherAffinityFailureStillRunsUnpinned(t *testing.T) {
	q := queue.New[*task.Task](4)
	m := newMonitor(2)
	inFlight := newFakeInFlight()

	d := New(q, m, inFlight, alwaysRunning{}, clockz.Real, nil, nil, Config{Pinner: failingPinner{}})
	go d.Run()

	var ran atomic.Bool
	tk := task.New(task.RunnableFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}), nil, task.Medium)
	require.NoError(t, q.Push(tk))

	inFlight.waitZero(t)
	q.Shutdown()
	time.Sleep(10 * time.Millisecond)

	assert.True(t, ran.Load())
	assert.Equal(t, task.Completed, tk.Status)
}

func TestDispatcherTerminatesOnShutdown(t *testing.T) {
	q := queue.New[*task.Task](4)
	m := newMonitor(2)
	inFlight := newFakeInFlight()

	d := New(q, m, inFlight, alwaysRunning{}, clockz.Real, nil, nil, Config{Pinner: noopPinner{}})

	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	q.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not terminate after shutdown")
	}
	assert.Equal(t, Stopped, d.State())
}

func TestDispatcherDistributesAcrossLeastLoadedCPU(t *testing.T) {
	q := queue.New[*task.Task](8)
	m := newMonitor(3)
	inFlight := newFakeInFlight()

	release := make(chan struct{})
	d := New(q, m, inFlight, alwaysRunning{}, clockz.Real, nil, nil, Config{Pinner: noopPinner{}, Policy: AffinityPolicy{}})
	go d.Run()

	tk := task.New(task.RunnableFunc(func(ctx context.Context) error {
		<-release
		return nil
	}), nil, task.Medium)
	require.NoError(t, q.Push(tk))

	deadline := time.Now().Add(2 * time.Second)
	for tk.Status != task.Running {
		if time.Now().After(deadline) {
			t.Fatal("task never started")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, tk.AssignedCPU)

	close(release)
	inFlight.waitZero(t)
	q.Shutdown()
}
