// Package cpumonitor periodically samples per-CPU jiffy counters, derives
// usage percentages, keeps a rolling history, and optionally predicts
// near-term load. spec.md §3 CpuStats/CpuMonitor, §4.C.
package cpumonitor

import "sync/atomic"

// RawSample holds the eight kernel-exported jiffy buckets for one CPU at
// one instant, in the order spec.md §6 names them.
type RawSample struct {
	User, Nice, System, Idle, IOWait, IRQ, SoftIRQ, Steal uint64
}

func (r RawSample) idle() uint64 {
	return r.Idle + r.IOWait
}

func (r RawSample) total() uint64 {
	return r.User + r.Nice + r.System + r.Idle + r.IOWait + r.IRQ + r.SoftIRQ + r.Steal
}

// CpuStats is the per-CPU record spec.md §3 describes. Raw counters,
// current_usage, usage_history, and predicted_load are owned by the
// monitor goroutine and never touched concurrently by anything else;
// activeTasks is a separate atomic counter the dispatcher/worker mutate
// without ever blocking the monitor (spec.md §5).
type CpuStats struct {
	id int

	raw          RawSample
	hasRaw       bool
	currentUsage float64

	history      []float64
	historyIndex int
	historyFull  bool

	predictedLoad float64

	activeTasks atomic.Int64
}

// ID is this stat record's CPU index.
func (s *CpuStats) ID() int { return s.id }

// CurrentUsage returns the most recently computed usage percentage in [0,100].
func (s *CpuStats) CurrentUsage() float64 { return s.currentUsage }

// PredictedLoad returns the most recently computed prediction in [0,100].
// Meaningless (0) until prediction is enabled and at least one sample has
// been taken.
func (s *CpuStats) PredictedLoad() float64 { return s.predictedLoad }

// ActiveTasks returns the number of tasks the dispatcher has committed to
// this CPU that have not yet completed.
func (s *CpuStats) ActiveTasks() int64 { return s.activeTasks.Load() }

// IncActiveTasks and DecActiveTasks are called by the dispatcher/worker
// wrapper at assignment and termination respectively (spec.md §3
// invariants). They never acquire the monitor's lock.
func (s *CpuStats) IncActiveTasks() { s.activeTasks.Add(1) }
func (s *CpuStats) DecActiveTasks() { s.activeTasks.Add(-1) }

// History returns a copy of the usage history ring in slot order (slot 0
// first); it is not rotated to the current write position, so once the
// ring has wrapped the oldest sample is not necessarily first. Used for
// diagnostics/the CLI's "stats"
// subcommand (SPEC_FULL.md §4).
func (s *CpuStats) History() []float64 {
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

// Raw returns the most recently recorded jiffy counters, for the CLI's
// detailed stats view (supplemented from original_source's print_cpu_stats).
func (s *CpuStats) Raw() RawSample { return s.raw }

// CpuStatsView is a point-in-time, read-only snapshot of one CPU's full
// detail: current usage, all eight raw jiffy buckets, predicted load,
// active task count, and the first five history samples. It restores the
// detail original_source/src/cpu_stats.c's print_cpu_stats prints, minus
// the Temperature field, which no known Linux source in this codebase
// ever populates (see DESIGN.md).
type CpuStatsView struct {
	ID            int
	CurrentUsage  float64
	Raw           RawSample
	PredictedLoad float64
	ActiveTasks   int64
	RecentHistory []float64 // up to the first 5 history slots
}

// view builds this CPU's CpuStatsView. RecentHistory is bounded by how
// many slots have actually been written (historyIndex, or the full ring
// once it has wrapped at least once), matching print_cpu_stats's
// "j < history_index" bound rather than the ring's raw capacity.
func (s *CpuStats) view() CpuStatsView {
	hist := s.History()
	filled := s.historyIndex
	if s.historyFull {
		filled = len(hist)
	}
	n := filled
	if n > 5 {
		n = 5
	}
	return CpuStatsView{
		ID:            s.ID(),
		CurrentUsage:  s.CurrentUsage(),
		Raw:           s.Raw(),
		PredictedLoad: s.PredictedLoad(),
		ActiveTasks:   s.ActiveTasks(),
		RecentHistory: hist[:n],
	}
}
