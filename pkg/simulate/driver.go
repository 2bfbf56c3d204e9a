// Package simulate drives synthetic task traffic against a balancer, the
// Go counterpart of original_source/src/load_balancer.c's
// balancer_run_simulation.
package simulate

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ja7ad/cpubalancer/pkg/clockz"
	"github.com/ja7ad/cpubalancer/pkg/logger"
	"github.com/ja7ad/cpubalancer/pkg/task"
	"github.com/ja7ad/cpubalancer/pkg/workload"
)

// Submitter is the subset of *balancer.LoadBalancer the driver needs,
// named narrowly so simulate never imports balancer (which would create
// an import cycle with anything balancer-side that wants to drive a
// simulation from a test).
type Submitter interface {
	Submit(payload task.Runnable, arg any, priority task.Priority) (*task.Task, error)
}

// Config mirrors balancer_run_simulation's (duration, task_generation_rate)
// parameters, plus the workload size range the original hardcodes as
// "0.1 to 2.0 seconds".
type Config struct {
	Duration     time.Duration
	TaskRate     float64 // tasks/sec, attempted on a 100ms tick like the original
	MinWorkload  time.Duration
	MaxWorkload  time.Duration
	PollInterval time.Duration // default 100ms, matching the original's usleep(100000)
}

// DefaultConfig mirrors the original's literal constants.
func DefaultConfig() Config {
	return Config{
		Duration:     30 * time.Second,
		TaskRate:     2.0,
		MinWorkload:  100 * time.Millisecond,
		MaxWorkload:  2 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Driver generates tasks on a Poisson-ish schedule and submits them,
// mirroring balancer_run_simulation's rate-gated while loop.
type Driver struct {
	cfg    Config
	clock  clockz.Clock
	log    logger.Logger
	target Submitter

	submitted int
}

// New constructs a Driver. log may be nil.
func New(cfg Config, target Submitter, clock clockz.Clock, log logger.Logger) *Driver {
	if log == nil {
		log = logger.Discard
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Driver{cfg: cfg, clock: clock, log: log, target: target}
}

// Submitted reports how many tasks this driver has submitted so far.
func (d *Driver) Submitted() int { return d.submitted }

// Run generates tasks until cfg.Duration elapses or ctx is cancelled. The
// per-tick generation probability is TaskRate/10.0, matching the
// original's "(double)rand()/RAND_MAX < task_generation_rate/10.0" gate
// on a 100ms tick (i.e. TaskRate tasks/sec in expectation).
func (d *Driver) Run(ctx context.Context) error {
	deadline := d.clock.Now().Add(d.cfg.Duration)
	threshold := d.cfg.TaskRate / 10.0

	for d.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clock.After(d.cfg.PollInterval):
		}

		if rand.Float64() >= threshold {
			continue
		}

		runtime := d.randomWorkload()
		_, err := d.target.Submit(workload.Burn{Duration: runtime}, nil, task.Medium)
		if err != nil {
			d.log.Log(logger.Warning, "simulation submit failed", "err", err)
			continue
		}
		d.submitted++
	}
	return nil
}

func (d *Driver) randomWorkload() time.Duration {
	lo, hi := d.cfg.MinWorkload, d.cfg.MaxWorkload
	if hi <= lo {
		return lo
	}
	span := hi - lo
	return lo + time.Duration(rand.Int64N(int64(span)))
}
