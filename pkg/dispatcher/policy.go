package dispatcher

import "github.com/ja7ad/cpubalancer/pkg/cpumonitor"

// Policy picks the CPU a newly-dequeued task should run on.
type Policy interface {
	Pick(stats []*cpumonitor.CpuStats, predictionEnabled bool) int
}

// AffinityPolicy is the canonical monitor-driven policy (spec.md §4.D):
// effective_load[i] = (current_usage[i]+predicted_load[i])/2 (or just
// current_usage[i] if prediction is disabled), plus 10x the CPU's active
// task count. The lowest effective_load wins; ties break toward the
// lowest index.
type AffinityPolicy struct{}

func (AffinityPolicy) Pick(stats []*cpumonitor.CpuStats, predictionEnabled bool) int {
	best := 0
	bestLoad := effectiveLoad(stats[0], predictionEnabled)
	for i := 1; i < len(stats); i++ {
		load := effectiveLoad(stats[i], predictionEnabled)
		if load < bestLoad {
			best = i
			bestLoad = load
		}
	}
	return best
}

func effectiveLoad(cpu *cpumonitor.CpuStats, predictionEnabled bool) float64 {
	var base float64
	if predictionEnabled {
		base = (cpu.CurrentUsage() + cpu.PredictedLoad()) / 2
	} else {
		base = cpu.CurrentUsage()
	}
	return base + 10*float64(cpu.ActiveTasks())
}

// RoundRobinPolicy is the degenerate mode spec.md §9 preserves:
// select_optimal_core ≡ (prev + 1) mod N, grounded directly in
// original_source/src/load_balancer.c's select_optimal_core.
type RoundRobinPolicy struct {
	prev int
}

func (p *RoundRobinPolicy) Pick(stats []*cpumonitor.CpuStats, _ bool) int {
	n := len(stats)
	if n == 0 {
		return 0
	}
	cur := p.prev % n
	p.prev = (p.prev + 1) % n
	return cur
}
