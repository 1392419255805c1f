package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllMetricsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("siaac_test", reg)

	m.QueueDepth.WithLabelValues("ethereum").Set(3)
	m.BatchFlushLatency.WithLabelValues("ethereum").Observe(0.25)
	m.BatchesFlushedTotal.WithLabelValues("ethereum", "size").Inc()
	m.AuthorizationOutcome.WithLabelValues("ok").Inc()
	m.KeyPoolExhaustion.WithLabelValues("pool-1").Inc()
	m.KeyPoolUsedKeys.WithLabelValues("pool-1").Set(5)
	m.AnonymitySetSize.WithLabelValues("pool-1").Set(10)
	m.NullifierRejections.WithLabelValues("already_used").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestQueueDepthGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("siaac_test", reg)
	m.QueueDepth.WithLabelValues("polygon").Set(7)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() != "siaac_test_aggregator_queue_depth" {
			continue
		}
		found = true
		for _, metric := range f.Metric {
			if metric.GetGauge().GetValue() != 7 {
				t.Fatalf("expected gauge value 7, got %v", metric.GetGauge().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("expected to find the queue_depth metric family")
	}
}
