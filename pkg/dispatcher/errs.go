package dispatcher

import "errors"

var (
	// ErrAffinityUnsupported is logged as a Warning (spec.md §7); the
	// worker still runs, just unpinned.
	ErrAffinityUnsupported = errors.New("dispatcher: CPU affinity not supported on this host")
)
