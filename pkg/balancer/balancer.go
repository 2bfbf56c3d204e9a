// Package balancer is the public façade: New, Submit, Start, Stop,
// WaitQuiescent. It owns the config, the queue, the monitor, and the
// dispatcher, and is the sole implementer of the global in-flight counter
// (spec.md §4.E, §5).
package balancer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/metricz"

	"github.com/ja7ad/cpubalancer/pkg/clockz"
	"github.com/ja7ad/cpubalancer/pkg/config"
	"github.com/ja7ad/cpubalancer/pkg/cpumonitor"
	"github.com/ja7ad/cpubalancer/pkg/dispatcher"
	"github.com/ja7ad/cpubalancer/pkg/logger"
	"github.com/ja7ad/cpubalancer/pkg/queue"
	"github.com/ja7ad/cpubalancer/pkg/task"
)

// JoinTimeout bounds how long Stop waits for the monitor/dispatcher
// threads and the in-flight counter (spec.md §4.E steps 5-6).
const JoinTimeout = 5 * time.Second

// inFlight is the façade-owned global counter + condition spec.md §5
// requires to live behind its own mutex, separate from the queue mutex.
type inFlight struct {
	mu  sync.Mutex
	cv  *sync.Cond
	cnt int64
}

func newInFlight() *inFlight {
	f := &inFlight{}
	f.cv = sync.NewCond(&f.mu)
	return f
}

func (f *inFlight) Inc() {
	f.mu.Lock()
	f.cnt++
	f.mu.Unlock()
}

func (f *inFlight) Dec() {
	f.mu.Lock()
	f.cnt--
	if f.cnt == 0 {
		f.cv.Broadcast()
	}
	f.mu.Unlock()
}

func (f *inFlight) value() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cnt
}

// waitZero blocks until the counter is zero or timeout elapses against
// clock, returning whether it reached zero. The timeout is driven by
// clock.After on its own goroutine that broadcasts the condition when it
// fires, the same "case <-clock.After(d)" shape zoobzio-pipz's
// backoff.go/ratelimiter.go use, so callers can exercise this
// deterministically with clockz.NewFake() rather than real wall time.
func (f *inFlight) waitZero(clock clockz.Clock, timeout time.Duration) bool {
	f.mu.Lock()
	if f.cnt == 0 {
		f.mu.Unlock()
		return true
	}
	f.mu.Unlock()

	var timedOut atomic.Bool
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-clock.After(timeout):
			timedOut.Store(true)
			f.mu.Lock()
			f.cv.Broadcast()
			f.mu.Unlock()
		case <-stop:
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	for f.cnt != 0 && !timedOut.Load() {
		f.cv.Wait()
	}
	return f.cnt == 0
}

// runFlag is the running/shutdown boolean, guarded by the same mutex the
// dispatcher consults before committing a dispatch (spec.md §4.D).
type runFlag struct {
	mu sync.Mutex
	v  bool
}

func (r *runFlag) set(v bool) {
	r.mu.Lock()
	r.v = v
	r.mu.Unlock()
}

func (r *runFlag) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v
}

// LoadBalancer is the public surface described in spec.md §4.E.
type LoadBalancer struct {
	cfg *config.Config

	queue   *queue.BoundedQueue[*task.Task]
	monitor *cpumonitor.CpuMonitor
	disp    *dispatcher.Dispatcher

	inFlight *inFlight
	running  *runFlag

	clock   clockz.Clock
	log     logger.Logger
	metrics *metricz.Registry

	monitorCtx    context.Context
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	dispDone      chan struct{}

	stopOnce sync.Once
}

// Option customizes construction, following the teacher's functional
// option pattern for injected collaborators (clock, logger, metrics,
// Source, Policy).
type Option func(*options)

type options struct {
	clock   clockz.Clock
	log     logger.Logger
	metrics *metricz.Registry
	source  cpumonitor.Source
	policy  dispatcher.Policy
	pinner  dispatcher.Pinner
}

func WithClock(c clockz.Clock) Option { return func(o *options) { o.clock = c } }
func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }
func WithMetrics(m *metricz.Registry) Option { return func(o *options) { o.metrics = m } }
func WithSource(s cpumonitor.Source) Option { return func(o *options) { o.source = s } }
func WithPolicy(p dispatcher.Policy) Option { return func(o *options) { o.policy = p } }
func WithPinner(p dispatcher.Pinner) Option { return func(o *options) { o.pinner = p } }

// New constructs a LoadBalancer from cfg. If cfg.NumCPUs is 0, the host's
// detected CPU count is used (spec.md §6: NumCPUs "0 means auto-detect").
func New(cfg *config.Config, opts ...Option) *LoadBalancer {
	o := &options{}
	for _, apply := range opts {
		apply(o)
	}
	if o.clock == nil {
		o.clock = clockz.Real
	}
	if o.log == nil {
		o.log = logger.Discard
	}
	if o.source == nil {
		o.source = cpumonitor.NewProcStatSource()
	}
	if o.policy == nil {
		if cfg.DispatchPolicy == config.PolicyRoundRobin {
			o.policy = &dispatcher.RoundRobinPolicy{}
		} else {
			o.policy = dispatcher.AffinityPolicy{}
		}
	}
	if o.pinner == nil {
		o.pinner = dispatcher.NewPinner()
	}

	numCPUs := cfg.NumCPUs
	if numCPUs <= 0 {
		numCPUs = runtime.NumCPU()
	}

	q := queue.New[*task.Task](cfg.MaxTasks)
	monitor := cpumonitor.New(cpumonitor.Config{
		NumCPUs:              numCPUs,
		LoadHistorySize:      cfg.LoadHistorySize,
		EnableLoadPrediction: cfg.EnableLoadPrediction,
	}, o.source, o.clock, o.log, o.metrics)

	running := &runFlag{}
	inFlight := newInFlight()

	disp := dispatcher.New(q, monitor, inFlight, running, o.clock, o.log, o.metrics, dispatcher.Config{
		Policy:            o.policy,
		Pinner:            o.pinner,
		PredictionEnabled: cfg.EnableLoadPrediction,
	})

	return &LoadBalancer{
		cfg:      cfg,
		queue:    q,
		monitor:  monitor,
		disp:     disp,
		inFlight: inFlight,
		running:  running,
		clock:    o.clock,
		log:      o.log,
		metrics:  o.metrics,
	}
}

// Start launches the monitor thread and the dispatcher thread (spec.md
// §4.E).
func (lb *LoadBalancer) Start() {
	lb.running.set(true)

	lb.monitorCtx, lb.monitorCancel = context.WithCancel(context.Background())
	lb.monitorDone = make(chan struct{})
	lb.dispDone = make(chan struct{})

	interval := time.Duration(lb.cfg.MonitoringIntervalMS) * time.Millisecond
	go func() {
		defer close(lb.monitorDone)
		lb.monitor.RunPeriodic(lb.monitorCtx, interval)
	}()

	go func() {
		defer close(lb.dispDone)
		lb.disp.Run()
	}()

	lb.log.Log(logger.Info, "load balancer started", "num_cpus", lb.monitor.NumCPUs())
}

// Submit wraps payload into a Task and pushes it into the queue. Returns
// ErrShutDown (via queue.Push) if the balancer has already been stopped.
func (lb *LoadBalancer) Submit(payload task.Runnable, arg any, priority task.Priority) (*task.Task, error) {
	t := task.New(payload, arg, priority)
	if err := lb.queue.Push(t); err != nil {
		return nil, fmt.Errorf("balancer: submit: %w", err)
	}
	return t, nil
}

// WaitQuiescent blocks until the global in-flight counter reaches zero.
func (lb *LoadBalancer) WaitQuiescent() {
	lb.inFlight.waitZero(lb.clock, 365*24*time.Hour)
}

// InFlight reports the current global in-flight task count.
func (lb *LoadBalancer) InFlight() int64 { return lb.inFlight.value() }

// Stats returns the current per-CPU snapshot for reporting (supplements
// original_source's balancer_print_stats).
func (lb *LoadBalancer) Stats() []*cpumonitor.CpuStats { return lb.monitor.Stats() }

// Snapshot returns the detailed per-CPU view (raw jiffy buckets, recent
// history) the CLI's stats subcommand tabulates (SPEC_FULL.md §4).
func (lb *LoadBalancer) Snapshot() []cpumonitor.CpuStatsView { return lb.monitor.Snapshot() }

// Stop executes the required six-step shutdown sequence (spec.md §4.E).
// Idempotent: safe to call more than once or concurrently.
func (lb *LoadBalancer) Stop() {
	lb.stopOnce.Do(func() {
		// Steps 1-2: clear running. The single broadcast of both queue
		// conditions (documented preference over the original's
		// triple-broadcast-with-sleep, see DESIGN.md) is done by
		// queue.Shutdown in step 3.
		lb.running.set(false)

		// Step 3: shut down the queue; the dispatcher's next Pop
		// returns (nil, false).
		lb.queue.Shutdown()

		// Step 4: drain anything still queued and mark it Failed.
		for _, t := range lb.queue.Drain() {
			now := lb.clock.Now()
			t.RecordStart(task.UnassignedCPU, now)
			t.RecordCompletion(false, now)
		}

		// Step 5: bounded joins of monitor and dispatcher threads, if
		// Start was ever called.
		if lb.monitorDone != nil {
			// The monitor loop only returns once its context is
			// cancelled, so tell it to stop before joining.
			lb.monitorCancel()
			lb.joinWithTimeout("monitor", lb.monitorDone, lb.monitorCancel)
			lb.joinWithTimeout("dispatcher", lb.dispDone, nil)
		}

		// Step 6: bounded wait for in-flight to reach zero.
		if !lb.inFlight.waitZero(lb.clock, JoinTimeout) {
			lb.log.Log(logger.Warning, "in-flight counter did not reach zero within timeout", "in_flight", lb.inFlight.value())
		}

		lb.log.Log(logger.Info, "load balancer stopped")
	})
}

func (lb *LoadBalancer) joinWithTimeout(name string, done chan struct{}, cancel context.CancelFunc) {
	select {
	case <-done:
		return
	case <-lb.clock.After(JoinTimeout):
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
	case <-lb.clock.After(JoinTimeout):
		lb.log.Log(logger.Warning, "thread did not join within timeout, proceeding", "thread", name)
	}
}
