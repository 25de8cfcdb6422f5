package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllFamilies(t *testing.T) {
	r := New()
	r.RxPackets.WithLabelValues("kiss0").Inc()
	r.RxDrops.WithLabelValues("kiss0", ReasonDupeReject).Inc()

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["aprxd_rx_packets_total"])
	require.True(t, names["aprxd_rx_drops_total"])
}

func TestRxPackets_CountsPerInterface(t *testing.T) {
	r := New()
	r.RxPackets.WithLabelValues("kiss0").Inc()
	r.RxPackets.WithLabelValues("kiss0").Inc()
	r.RxPackets.WithLabelValues("kiss1").Inc()

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	var metric *dto.Metric
	for _, f := range families {
		if f.GetName() != "aprxd_rx_packets_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "interface" && l.GetValue() == "kiss0" {
					metric = m
				}
			}
		}
	}
	require.NotNil(t, metric)
	require.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestErlang_ObserveIncreasesRates(t *testing.T) {
	e := NewErlang(10)
	for i := 0; i < 5; i++ {
		e.Observe("kiss0", 100)
	}
	pps, bps := e.Rates("kiss0")
	require.Greater(t, pps, 0.0)
	require.Greater(t, bps, 0.0)
}

func TestFormatRate_ProducesReadableString(t *testing.T) {
	s := FormatRate(3.2, 1536)
	require.Contains(t, s, "pkt/s")
}
