package cpumonitor

import "errors"

var (
	// ErrSourceUnavailable mirrors spec.md §7's UtilizationSourceUnavailable:
	// the kernel-exported utilization source could not be read. Sample logs
	// a Warning and returns without touching any CpuStats.
	ErrSourceUnavailable = errors.New("cpumonitor: utilization source unavailable")
)
