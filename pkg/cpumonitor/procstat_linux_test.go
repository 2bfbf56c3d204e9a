//go:build linux

package cpumonitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcStatSourceReadsRealHost(t *testing.T) {
	src := NewProcStatSource()
	raws, err := src.Sample(1)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.NotNil(t, raws[0], "this host's /proc/stat should have at least one per-CPU line")
	require.Greater(t, raws[0].total(), uint64(0))
}
