// Package task defines the unit of work the balancer dispatches: a stable
// identity plus mutable lifecycle state, and the callable contract a
// payload must satisfy to run on a worker.
package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Priority tags a task without influencing CPU selection (spec: the
// current dispatch policy ignores priority when choosing a CPU).
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the task's lifecycle state. It is monotonic:
// Pending -> Running -> (Completed | Failed).
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// UnassignedCPU is the sentinel held by AssignedCPU until dispatch.
const UnassignedCPU = -1

// Runnable is the capability a task payload must provide: a single-call
// invocation contract that can execute on a worker's goroutine, pinned to
// whatever CPU the dispatcher committed to. Context carries cancellation
// for bookkeeping only — once started a payload is not forcibly killed.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error { return f(ctx) }

// Task carries an immutable identity (ID, Priority, Payload, Arg) and
// mutable lifecycle state (Status, AssignedCPU, timestamps). Only the
// dispatcher mutates assignment/start, and the worker wrapper mutates
// completion; nothing else writes to a Task after submission.
type Task struct {
	ID          int64
	Priority    Priority
	Payload     Runnable
	Arg         any
	Status      Status
	AssignedCPU int

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

var idSeq atomic.Int64

// nextID returns a process-wide monotonic identifier. It is a free
// function over a package-private atomic counter — spec.md §9 asks that
// mutation never be exposed, so there is no setter.
func nextID() int64 {
	return idSeq.Add(1)
}

// New constructs a Task in Pending status with a fresh ID and create
// timestamp. The caller relinquishes payload and arg: ownership transfers
// to the Task for its lifetime.
func New(payload Runnable, arg any, priority Priority) *Task {
	return &Task{
		ID:          nextID(),
		Priority:    priority,
		Payload:     payload,
		Arg:         arg,
		Status:      Pending,
		AssignedCPU: UnassignedCPU,
		CreatedAt:   time.Now(),
	}
}

// RecordStart transitions Pending -> Running, assigning the CPU and
// stamping the start time. Called only by the dispatcher. Any other
// transition is a programming error.
func (t *Task) RecordStart(cpu int, now time.Time) {
	if t.Status != Pending {
		panic(fmt.Sprintf("task %d: RecordStart called from status %s, want pending", t.ID, t.Status))
	}
	t.AssignedCPU = cpu
	t.StartedAt = now
	t.Status = Running
}

// RecordCompletion transitions Running -> Completed or Failed, stamping
// the end time. Called only by the worker wrapper.
func (t *Task) RecordCompletion(ok bool, now time.Time) {
	if t.Status != Running {
		panic(fmt.Sprintf("task %d: RecordCompletion called from status %s, want running", t.ID, t.Status))
	}
	t.EndedAt = now
	if ok {
		t.Status = Completed
	} else {
		t.Status = Failed
	}
}
