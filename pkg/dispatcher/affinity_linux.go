//go:build linux

package dispatcher

import "golang.org/x/sys/unix"

// Pinner restricts the calling OS thread's scheduling affinity to a
// single CPU. spec.md §4.D: "the worker's OS thread must be pinned to cpu
// before it begins executing the payload."
type Pinner interface {
	Pin(cpu int) error
}

// unixPinner is the production Pinner, grounded in golang.org/x/sys/unix's
// SchedSetaffinity — the pack's only real OS-affinity primitive
// (ja7ad-consumption's go.mod carries golang.org/x/sys indirectly; this is
// its intended direct use per SPEC_FULL.md §3).
type unixPinner struct{}

// NewPinner returns the production Pinner for this platform.
func NewPinner() Pinner { return unixPinner{} }

func (unixPinner) Pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// Pid 0 means "the calling thread" for SchedSetaffinity.
	return unix.SchedSetaffinity(0, &set)
}
