package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere totals the data points of counter name carrying every attribute
// in match.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, match map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %s not recorded", name)
	}
	sum, isSum := met.Data.(metricdata.Sum[int64])
	if !isSum {
		t.Fatalf("metric %s is %T, want a sum", name, met.Data)
	}
	var total int64
points:
	for _, dp := range sum.DataPoints {
		for k, want := range match {
			if v, found := dp.Attributes.Value(attribute.Key(k)); !found || v.AsString() != want {
				continue points
			}
		}
		total += dp.Value
	}
	return total
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %s not recorded", name)
	}
	hist, isHist := met.Data.(metricdata.Histogram[float64])
	if !isHist {
		t.Fatalf("metric %s is %T, want a histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "error")
	m.RecordProviderError(ctx, "coqui", "tts")
	m.RecordCircuitTransition(ctx, "coqui", "tts", "open")
	m.RecordTurn(ctx, OutcomeReplied)
	m.RecordTurn(ctx, OutcomeReplied)
	m.RecordTurn(ctx, OutcomeNoWake)
	m.RecordCommands(ctx, []string{"start_brew", "stop_brew"})
	m.RecordCommands(ctx, []string{"start_brew"})
	m.RecordCommands(ctx, nil)
	m.RecordExtraction(ctx, 2*time.Second, false)
	m.RecordExtraction(ctx, 30*time.Second, true)
	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	tests := []struct {
		metric string
		match  map[string]string
		want   int64
	}{
		{"soven.provider.requests", map[string]string{"provider": "ollama", "status": "ok"}, 2},
		{"soven.provider.requests", map[string]string{"status": "error"}, 1},
		{"soven.provider.errors", map[string]string{"provider": "coqui", "kind": "tts"}, 1},
		{"soven.provider.circuit_transitions", map[string]string{"state": "open"}, 1},
		{"soven.session.turns", map[string]string{"outcome": OutcomeReplied}, 2},
		{"soven.session.turns", map[string]string{"outcome": OutcomeNoWake}, 1},
		{"soven.appliance.commands", map[string]string{"command": "start_brew"}, 2},
		{"soven.appliance.commands", map[string]string{"command": "stop_brew"}, 1},
		{"soven.extractions", map[string]string{"status": "ok"}, 1},
		{"soven.extractions", map[string]string{"status": "fallback"}, 1},
		{"soven.active_sessions", nil, 1},
	}
	for _, tt := range tests {
		if got := sumWhere(t, rm, tt.metric, tt.match); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.metric, tt.match, got, tt.want)
		}
	}
	if n := histogramCount(t, rm, "soven.extraction.duration"); n != 2 {
		t.Errorf("extraction duration samples = %d, want 2", n)
	}
}

func TestMetrics_StageHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	stages := map[string]func(float64){
		"soven.stt.duration": func(v float64) { m.STTDuration.Record(ctx, v) },
		"soven.llm.duration": func(v float64) { m.LLMDuration.Record(ctx, v) },
		"soven.tts.duration": func(v float64) { m.TTSDuration.Record(ctx, v) },
	}
	for _, record := range stages {
		record(0.12)
		record(0.45)
	}
	rm := collect(t, reader)
	for name := range stages {
		if n := histogramCount(t, rm, name); n != 2 {
			t.Errorf("%s samples = %d, want 2", name, n)
		}
	}
}

func TestDefaultMetrics(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics is not a singleton")
	}
}
