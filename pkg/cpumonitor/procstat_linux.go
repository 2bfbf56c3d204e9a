//go:build linux

package cpumonitor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// procStatSource reads /proc/stat the way spec.md §6 describes: the first
// (aggregate) line is skipped, then N per-CPU lines each carrying the
// eight buckets in order. Grounded on
// ja7ad-consumption/pkg/system/proc/proc.go's ReadSystemCPU, which parses
// the same file's aggregate line with the identical bufio.Scanner +
// strings.Fields + strconv.ParseUint idiom; this widens that idiom to the
// per-CPU lines the aggregate-only reader skips.
type procStatSource struct{}

// NewProcStatSource returns the production Source backed by /proc/stat.
func NewProcStatSource() Source { return procStatSource{} }

func (procStatSource) Sample(n int) ([]*RawSample, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil, fmt.Errorf("cpumonitor: open /proc/stat: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("cpumonitor: empty /proc/stat")
	}
	// First line is the aggregate "cpu  ..." line; skipped per spec.md §6.

	out := make([]*RawSample, n)
	for i := 0; i < n && sc.Scan(); i++ {
		fields := strings.Fields(sc.Text())
		if len(fields) < 9 || !strings.HasPrefix(fields[0], "cpu") {
			// A malformed per-CPU line leaves out[i] nil; later lines are
			// still attempted (spec.md §4.C Failure).
			continue
		}
		vals := make([]uint64, 8)
		ok := true
		for j := 0; j < 8; j++ {
			v, err := strconv.ParseUint(fields[j+1], 10, 64)
			if err != nil {
				ok = false
				break
			}
			vals[j] = v
		}
		if !ok {
			continue
		}
		out[i] = &RawSample{
			User: vals[0], Nice: vals[1], System: vals[2], Idle: vals[3],
			IOWait: vals[4], IRQ: vals[5], SoftIRQ: vals[6], Steal: vals[7],
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cpumonitor: scan /proc/stat: %w", err)
	}
	return out, nil
}
