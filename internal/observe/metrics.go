// Package observe is Soven's telemetry layer: OpenTelemetry metrics bridged
// to Prometheus, tracing with an entity-aware span helper, a trace-carrying
// slog logger and the HTTP middleware that ties them to each request.
//
// Production code gets its instruments from [Init]. Tests build isolated ones
// with [NewMetrics] over their own meter provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/soven"

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeReplied  = "replied"
	OutcomeNoWake   = "no_wake_word"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
	OutcomeFallback = "fallback"
	OutcomeRejected = "rejected"
)

// Metrics bundles the application's instruments. Prefer the Record helpers,
// which attach the expected attributes.
type Metrics struct {
	// Stage latencies in seconds.
	STTDuration        metric.Float64Histogram
	LLMDuration        metric.Float64Histogram
	TTSDuration        metric.Float64Histogram
	ExtractionDuration metric.Float64Histogram

	// ProviderRequests is labelled provider, kind and status.
	ProviderRequests metric.Int64Counter
	// ProviderErrors is labelled provider and kind.
	ProviderErrors metric.Int64Counter
	// CircuitTransitions is labelled provider, kind and the state entered.
	CircuitTransitions metric.Int64Counter

	Turns       metric.Int64Counter // outcome
	Commands    metric.Int64Counter // command
	Extractions metric.Int64Counter // status: ok or fallback

	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets covers a voice turn, from a cached synthesis to a slow model.
var stageBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewMetrics registers every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	stages := []struct {
		dst         *metric.Float64Histogram
		name, about string
	}{
		{&m.STTDuration, "soven.stt.duration", "Speech recognition latency."},
		{&m.LLMDuration, "soven.llm.duration", "Reply generation latency."},
		{&m.TTSDuration, "soven.tts.duration", "Speech synthesis latency."},
		{&m.ExtractionDuration, "soven.extraction.duration", "Trait extraction latency."},
	}
	for _, s := range stages {
		h, err := meter.Float64Histogram(s.name,
			metric.WithDescription(s.about),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(stageBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*s.dst = h
	}

	counters := []struct {
		dst         *metric.Int64Counter
		name, about string
	}{
		{&m.ProviderRequests, "soven.provider.requests", "Provider calls by provider, kind and status."},
		{&m.ProviderErrors, "soven.provider.errors", "Provider failures by provider and kind."},
		{&m.CircuitTransitions, "soven.provider.circuit_transitions", "Circuit breaker state changes by provider, kind and state."},
		{&m.Turns, "soven.session.turns", "Finished session turns by outcome."},
		{&m.Commands, "soven.appliance.commands", "Appliance command tokens by command."},
		{&m.Extractions, "soven.extractions", "Trait extractions by status."},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.about))
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}

	var err error
	if m.ActiveSessions, err = meter.Int64UpDownCounter("soven.active_sessions",
		metric.WithDescription("Live appliance sessions."),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("soven.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func labels(kv ...string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(attrs...)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, labels("provider", provider, "kind", kind, "status", status))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, labels("provider", provider, "kind", kind))
}

// RecordCircuitTransition counts a provider circuit entering state.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, provider, kind, state string) {
	m.CircuitTransitions.Add(ctx, 1, labels("provider", provider, "kind", kind, "state", state))
}

// RecordTurn counts one finished session turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, labels("outcome", outcome))
}

// RecordCommands counts each command token of a reply.
func (m *Metrics) RecordCommands(ctx context.Context, commands []string) {
	for _, c := range commands {
		m.Commands.Add(ctx, 1, labels("command", c))
	}
}

// RecordExtraction records an extraction's latency and whether it fell back
// to neutral traits.
func (m *Metrics) RecordExtraction(ctx context.Context, d time.Duration, fallback bool) {
	status := "ok"
	if fallback {
		status = "fallback"
	}
	m.ExtractionDuration.Record(ctx, d.Seconds())
	m.Extractions.Add(ctx, 1, labels("status", status))
}
