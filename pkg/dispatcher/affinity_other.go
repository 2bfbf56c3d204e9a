//go:build !linux

package dispatcher

// Pinner restricts the calling OS thread's scheduling affinity to a
// single CPU. On unsupported hosts, Pin always reports
// ErrAffinityUnsupported; the dispatcher logs a Warning and runs the
// worker unpinned (spec.md §4.D Affinity).
type Pinner interface {
	Pin(cpu int) error
}

type unsupportedPinner struct{}

// NewPinner returns the production Pinner for this platform.
func NewPinner() Pinner { return unsupportedPinner{} }

func (unsupportedPinner) Pin(int) error { return ErrAffinityUnsupported }
