package cpumonitor

import (
	"context"
	"time"

	"github.com/zoobzio/metricz"

	"github.com/ja7ad/cpubalancer/pkg/clockz"
	"github.com/ja7ad/cpubalancer/pkg/logger"
)

// Metric keys, following the teacher pack's metricz.Key("dotted.name")
// convention (zoobzio-pipz's handle.go/backoff.go).
const (
	MetricSamplesTotal      = metricz.Key("cpumonitor.samples.total")
	MetricSampleErrorsTotal = metricz.Key("cpumonitor.sample_errors.total")
	MetricZeroDeltaTicks    = metricz.Key("cpumonitor.zero_delta_ticks.total")
)

// Source abstracts the kernel-exported per-CPU jiffy stream (spec.md §6).
// The production implementation reads /proc/stat; tests substitute a
// fixed sequence of samples.
type Source interface {
	// Sample returns one slot per CPU, in CPU-index order, for exactly n
	// CPUs. A nil slot means that CPU's line could not be parsed this
	// tick; its stats are left untouched while later slots are still
	// applied (spec.md §4.C Failure). A non-nil error means the source
	// itself was unreadable (e.g. /proc/stat missing) and no slot should
	// be trusted.
	Sample(n int) ([]*RawSample, error)
}

// Config is the subset of pkg/config.Config the monitor needs, passed in
// rather than importing the whole config package (keeps cpumonitor usable
// standalone, the way the teacher keeps pkg/system/proc free of CLI
// concerns).
type Config struct {
	NumCPUs              int
	LoadHistorySize      int
	EnableLoadPrediction bool
}

// CpuMonitor owns a slice of CpuStats and samples Source on an interval.
type CpuMonitor struct {
	cfg     Config
	source  Source
	clock   clockz.Clock
	log     logger.Logger
	metrics *metricz.Registry

	stats []*CpuStats
}

// New constructs a monitor for cfg.NumCPUs CPUs, each with a history ring
// of cfg.LoadHistorySize. metrics may be nil (a no-op per SPEC_FULL.md §6).
func New(cfg Config, source Source, clock clockz.Clock, log logger.Logger, metrics *metricz.Registry) *CpuMonitor {
	if log == nil {
		log = logger.Discard
	}
	if metrics != nil {
		metrics.Counter(MetricSamplesTotal)
		metrics.Counter(MetricSampleErrorsTotal)
		metrics.Counter(MetricZeroDeltaTicks)
	}

	stats := make([]*CpuStats, cfg.NumCPUs)
	for i := range stats {
		stats[i] = &CpuStats{
			id:      i,
			history: make([]float64, cfg.LoadHistorySize),
		}
	}

	return &CpuMonitor{
		cfg:     cfg,
		source:  source,
		clock:   clock,
		log:     log,
		metrics: metrics,
		stats:   stats,
	}
}

// Stats returns the monitor's per-CPU records. Callers read through the
// returned pointers' accessor methods; nothing here exposes a mutable
// field directly except the atomic active-task counter, which is safe to
// mutate concurrently by design.
func (m *CpuMonitor) Stats() []*CpuStats { return m.stats }

// NumCPUs reports how many CPUs this monitor tracks.
func (m *CpuMonitor) NumCPUs() int { return len(m.stats) }

// Snapshot returns a detailed, per-CPU view of every tracked CPU,
// restoring the full detail original_source/src/cpu_stats.c's
// print_cpu_stats reported (SPEC_FULL.md §4): the eight raw jiffy
// buckets and the first five history samples alongside current usage,
// predicted load, and active task count.
func (m *CpuMonitor) Snapshot() []CpuStatsView {
	out := make([]CpuStatsView, len(m.stats))
	for i, cpu := range m.stats {
		out[i] = cpu.view()
	}
	return out
}

// Sample takes one snapshot. If the source is unreadable, it logs a
// Warning and returns without touching any CpuStats (spec.md §4.C
// Failure). A per-CPU parse failure leaves that CPU's stats untouched
// while later CPUs are still attempted — the Source implementation is
// responsible for reporting that at the per-line level; at this layer a
// whole-sample error means the source call itself failed.
func (m *CpuMonitor) Sample() error {
	raws, err := m.source.Sample(len(m.stats))
	if err != nil {
		m.log.Log(logger.Warning, "utilization source unavailable", "err", err)
		if m.metrics != nil {
			m.metrics.Counter(MetricSampleErrorsTotal).Inc()
		}
		return ErrSourceUnavailable
	}

	for i, cpu := range m.stats {
		if i >= len(raws) || raws[i] == nil {
			continue
		}
		m.applySample(cpu, *raws[i])
	}

	if m.metrics != nil {
		m.metrics.Counter(MetricSamplesTotal).Inc()
	}
	return nil
}

func (m *CpuMonitor) applySample(cpu *CpuStats, sample RawSample) {
	if !cpu.hasRaw {
		// First-ever sample: seed counters, usage starts at 0 (spec.md §4.C).
		cpu.raw = sample
		cpu.hasRaw = true
		cpu.currentUsage = 0
		m.recordHistory(cpu)
		return
	}

	prev := cpu.raw
	idleDelta := sample.idle() - prev.idle()
	totalDelta := sample.total() - prev.total()
	cpu.raw = sample

	if totalDelta == 0 {
		// No update to history on a zero-delta tick (spec.md §4.C, §8).
		if m.metrics != nil {
			m.metrics.Counter(MetricZeroDeltaTicks).Inc()
		}
		return
	}

	usage := 100 * (1 - float64(idleDelta)/float64(totalDelta))
	if usage < 0 {
		usage = 0
	}
	if usage > 100 {
		usage = 100
	}
	cpu.currentUsage = usage
	m.recordHistory(cpu)
}

// recordHistory overwrites usage_history[h] and advances h mod H, then
// recomputes predicted_load if enabled.
func (m *CpuMonitor) recordHistory(cpu *CpuStats) {
	if len(cpu.history) == 0 {
		return
	}
	cpu.history[cpu.historyIndex] = cpu.currentUsage
	cpu.historyIndex = (cpu.historyIndex + 1) % len(cpu.history)
	if cpu.historyIndex == 0 {
		cpu.historyFull = true
	}

	if m.cfg.EnableLoadPrediction {
		cpu.predictedLoad = predict(cpu)
	}
}

// predict averages all H slots once the ring has filled, and the
// partial window [0, historyIndex) before that — the spec-preferred
// corrected semantics (spec.md §9, SPEC_FULL.md §7), as opposed to the
// original source's restart-at-each-wrap average.
func predict(cpu *CpuStats) float64 {
	if cpu.historyFull {
		var sum float64
		for _, v := range cpu.history {
			sum += v
		}
		return sum / float64(len(cpu.history))
	}
	if cpu.historyIndex == 0 {
		return cpu.currentUsage
	}
	var sum float64
	for i := 0; i < cpu.historyIndex; i++ {
		sum += cpu.history[i]
	}
	return sum / float64(cpu.historyIndex)
}

// RunPeriodic samples on roughly the given interval until ctx is
// cancelled, using the injected Clock so tests can fast-forward it
// (clockz.NewFake, following zoobzio-pipz's backoff.go "case
// <-clock.After(delay)" pattern rather than a raw time.Ticker).
func (m *CpuMonitor) RunPeriodic(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(interval):
			_ = m.Sample()
		}
	}
}
