package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestObserveToolDispatchIncrementsCounter(t *testing.T) {
	r := New()
	r.ObserveToolDispatch("read_file", "success")
	r.ObserveToolDispatch("read_file", "success")
	r.ObserveToolDispatch("shell", "denied")

	metricFamilies, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "vtcode_registry_tool_dispatch_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "tool") == "read_file" && labelValue(m, "outcome") == "success" {
				found = true
				if m.GetCounter().GetValue() != 2 {
					t.Fatalf("want count 2 for read_file/success, got %v", m.GetCounter().GetValue())
				}
			}
		}
	}
	if !found {
		t.Fatalf("want a read_file/success series in gathered metrics")
	}
}

func TestObservePolicyDecisionIncrementsCounter(t *testing.T) {
	r := New()
	r.ObservePolicyDecision("deny")

	metricFamilies, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var total float64
	for _, mf := range metricFamilies {
		if mf.GetName() != "vtcode_policy_gate_decision_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	if total != 1 {
		t.Fatalf("want total 1, got %v", total)
	}
}

func TestObserveTurnDurationRecordsIntoHistogram(t *testing.T) {
	r := New()
	r.ObserveTurnDuration(1.5)

	metricFamilies, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sampleCount uint64
	for _, mf := range metricFamilies {
		if mf.GetName() != "vtcode_runloop_turn_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			sampleCount += m.GetHistogram().GetSampleCount()
		}
	}
	if sampleCount != 1 {
		t.Fatalf("want 1 observed sample, got %d", sampleCount)
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
