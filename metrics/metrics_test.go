package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.Metric {
			if m.Counter != nil {
				total += m.Counter.GetValue()
			}
		}
		return total
	}
	return 0
}

func TestRegistryNilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveMerge("given", 3)
		r.AddBytes("contents", 128)
		r.AddRow("message")
		r.AddSkipped("folder")
	})
}

func TestRegistryRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.AddRow("message")
	r.AddRow("message")
	r.AddSkipped("folder")
	r.AddBytes("contents", 256)
	r.ObserveMerge("given", 4)

	assert.Equal(t, float64(2), counterValue(t, reg, "icsfx_syncengine_download_rows_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "icsfx_syncengine_download_rows_skipped_total"))
	assert.Equal(t, float64(256), counterValue(t, reg, "icsfx_fastxfer_bytes_produced_total"))
}
