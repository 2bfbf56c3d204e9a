// Package clockz re-exports the Clock capability the core depends on, so
// every package that needs time (the monitor's periodic sampling, the
// dispatcher's timestamps, the façade's bounded joins) takes an interface
// instead of calling time.Now/time.Sleep directly, and tests can swap in a
// fake clock to drive deterministic timing.
package clockz

import "github.com/zoobzio/clockz"

// Clock is the capability spec.md's core consumes. It is exactly
// zoobzio/clockz's Clock interface, aliased here so callers depend on
// this module's own package path rather than reaching into a vendor.
type Clock = clockz.Clock

// Real is the production clock, backed by the standard library.
var Real = clockz.RealClock

// NewFake returns a clock under test control: Now() is frozen until
// Advance is called, and timers/tickers fire only when the fake clock is
// moved past their deadline.
func NewFake() *clockz.FakeClock {
	return clockz.NewFakeClock()
}
