// Package dispatcher implements the dispatch loop: dequeue a task, pick a
// CPU under the load-minimization policy, spawn a pinned detached worker,
// and account for it until completion. spec.md §4.D.
package dispatcher

import (
	"context"
	"runtime"
	"sync"

	"github.com/zoobzio/metricz"

	"github.com/ja7ad/cpubalancer/pkg/clockz"
	"github.com/ja7ad/cpubalancer/pkg/cpumonitor"
	"github.com/ja7ad/cpubalancer/pkg/logger"
	"github.com/ja7ad/cpubalancer/pkg/queue"
	"github.com/ja7ad/cpubalancer/pkg/task"
)

// Metric keys (zoobzio-pipz's metricz.Key("dotted.name") convention).
const (
	MetricDispatchedTotal   = metricz.Key("dispatcher.dispatched.total")
	MetricCompletedTotal    = metricz.Key("dispatcher.completed.total")
	MetricFailedTotal       = metricz.Key("dispatcher.failed.total")
	MetricAffinityWarnTotal = metricz.Key("dispatcher.affinity_unsupported.total")
)

// State is the dispatcher's one-way lifecycle (spec.md §4.D State machine).
type State int

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// InFlightCounter is the façade-owned global in-flight accounting the
// dispatcher's workers mutate at assignment and termination (spec.md §5:
// "a separate in_flight mutex guards the global in-flight counter").
// Defined as an interface here, implemented by pkg/balancer, so dispatcher
// need not import its own caller.
type InFlightCounter interface {
	Inc()
	Dec()
}

// RunningFlag reports whether the façade currently considers itself
// running, checked by the loop before committing a dispatch (spec.md §4.D
// Loop: "If the balancer is not running, mark the task Failed").
type RunningFlag interface {
	Running() bool
}

// Dispatcher consumes from a shared queue and spawns pinned workers.
type Dispatcher struct {
	queue    *queue.BoundedQueue[*task.Task]
	monitor  *cpumonitor.CpuMonitor
	policy   Policy
	pinner   Pinner
	inFlight InFlightCounter
	running  RunningFlag
	clock    clockz.Clock
	log      logger.Logger
	metrics  *metricz.Registry

	predictionEnabled bool

	mu    sync.Mutex
	state State

	wg sync.WaitGroup
}

// Config bundles the wiring Dispatcher needs beyond the queue/monitor.
type Config struct {
	Policy            Policy
	Pinner            Pinner
	PredictionEnabled bool
}

// New constructs a Dispatcher. metrics may be nil.
func New(q *queue.BoundedQueue[*task.Task], monitor *cpumonitor.CpuMonitor, inFlight InFlightCounter, running RunningFlag, clock clockz.Clock, log logger.Logger, metrics *metricz.Registry, cfg Config) *Dispatcher {
	if log == nil {
		log = logger.Discard
	}
	if cfg.Policy == nil {
		cfg.Policy = AffinityPolicy{}
	}
	if cfg.Pinner == nil {
		cfg.Pinner = NewPinner()
	}
	if metrics != nil {
		metrics.Counter(MetricDispatchedTotal)
		metrics.Counter(MetricCompletedTotal)
		metrics.Counter(MetricFailedTotal)
		metrics.Counter(MetricAffinityWarnTotal)
	}

	return &Dispatcher{
		queue:             q,
		monitor:           monitor,
		policy:            cfg.Policy,
		pinner:            cfg.Pinner,
		inFlight:          inFlight,
		running:           running,
		clock:             clock,
		log:               log,
		metrics:           metrics,
		predictionEnabled: cfg.PredictionEnabled,
		state:             Idle,
	}
}

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run executes the dispatch loop until the queue signals shutdown+empty.
// Meant to run on its own goroutine, started by the façade. Workers are
// detached: Run returns as soon as the loop exits, without waiting for
// workers that are still running; the façade's in-flight counter tracks
// those.
func (d *Dispatcher) Run() {
	d.setState(Running)
	for {
		t, ok := d.queue.Pop()
		if !ok {
			break
		}
		d.log.Log(logger.Debug, "dequeued task", "task_id", t.ID)
		d.dispatch(t)
	}
	d.setState(Draining)
	d.setState(Stopped)
}

// dispatch selects a CPU, commits the assignment, and spawns a worker.
// If the façade is no longer running, the task is failed without being
// dispatched (spec.md §4.D Loop).
func (d *Dispatcher) dispatch(t *task.Task) {
	if d.running != nil && !d.running.Running() {
		t.RecordStart(task.UnassignedCPU, d.clock.Now())
		t.RecordCompletion(false, d.clock.Now())
		if d.metrics != nil {
			d.metrics.Counter(MetricFailedTotal).Inc()
		}
		return
	}

	stats := d.monitor.Stats()
	cpu := d.policy.Pick(stats, d.predictionEnabled)

	now := d.clock.Now()
	t.RecordStart(cpu, now)
	stats[cpu].IncActiveTasks()
	d.inFlight.Inc()
	if d.metrics != nil {
		d.metrics.Counter(MetricDispatchedTotal).Inc()
	}
	d.log.Log(logger.Info, "task assigned", "task_id", t.ID, "cpu", cpu)

	d.wg.Add(1)
	go d.runWorker(t, cpu, stats[cpu])
}

// runWorker is the detached, pinned worker body. A panic inside the
// payload is recovered and accounted as Failed, never leaking an
// increment (spec.md §4.D Failure).
func (d *Dispatcher) runWorker(t *task.Task, cpu int, cpuStats *cpumonitor.CpuStats) {
	defer d.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := d.pinner.Pin(cpu); err != nil {
		d.log.Log(logger.Warning, "CPU affinity unsupported, running unpinned", "cpu", cpu, "err", err)
		if d.metrics != nil {
			d.metrics.Counter(MetricAffinityWarnTotal).Inc()
		}
	}

	ok := d.invoke(t)

	t.RecordCompletion(ok, d.clock.Now())
	cpuStats.DecActiveTasks()
	d.inFlight.Dec()

	if ok {
		if d.metrics != nil {
			d.metrics.Counter(MetricCompletedTotal).Inc()
		}
		d.log.Log(logger.Debug, "task completed", "task_id", t.ID)
	} else {
		if d.metrics != nil {
			d.metrics.Counter(MetricFailedTotal).Inc()
		}
		d.log.Log(logger.Warning, "task failed", "task_id", t.ID)
	}
}

// invoke runs the task's payload, recovering a panic as a PayloadFailure
// (spec.md §7) so one task's fault never corrupts dispatcher state.
func (d *Dispatcher) invoke(t *task.Task) (ok bool) {
	if t.Payload == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Log(logger.Error, "task payload panicked", "task_id", t.ID, "recover", r)
			ok = false
		}
	}()
	err := t.Payload.Run(context.Background())
	return err == nil
}
