package resilience

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/observe"
)

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = 3
	}
	fg := NewFallbackGroup("primary", "primary", cfg)
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failing    []string
		wantCalled []string
		wantErr    bool
	}{
		{"primary succeeds", nil, []string{"primary"}, false},
		{"failover", []string{"primary"}, []string{"primary", "secondary"}, false},
		{"all fail", []string{"primary", "secondary"}, []string{"primary", "secondary"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var called []string
			err := newGroup(FallbackConfig{}).Execute(context.Background(), func(v string) error {
				called = append(called, v)
				if slices.Contains(tt.failing, v) {
					return errTest
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest)) {
				t.Errorf("err = %v, want ErrAllFailed wrapping the last error", err)
			}
			if !slices.Equal(called, tt.wantCalled) {
				t.Errorf("called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenCircuit(t *testing.T) {
	t.Parallel()

	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}})
	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called []string
	if err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(called, []string{"secondary"}) {
		t.Errorf("called = %v, want only secondary", called)
	}
}

func TestFallbackGroup_NeutralErrorStops(t *testing.T) {
	t.Parallel()

	var called []string
	_, err := ExecuteWithResult(context.Background(), newGroup(FallbackConfig{}), func(v string) (int, error) {
		called = append(called, v)
		return 0, fault.ErrInvalidInput
	})
	if !errors.Is(err, fault.ErrInvalidInput) || errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want primary only", called)
	}
}

func TestFallbackGroup_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := newGroup(FallbackConfig{}).Execute(ctx, func(string) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestFallbackGroup_RecordsProviderErrors(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	fg := newGroup(FallbackConfig{Kind: "stt", Metrics: m})
	if got := fg.Names(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Names = %v", got)
	}

	_ = fg.Execute(context.Background(), func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "soven.provider.errors" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 1 {
		t.Errorf("provider errors = %d, want 1", total)
	}
}

func TestFallbackGroup_Ready(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	fg := newGroup(FallbackConfig{
		Kind:           "tts",
		Metrics:        m,
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	if err := fg.Ready(); err != nil {
		t.Fatalf("fresh group not ready: %v", err)
	}

	// Only the primary trips: still ready.
	_ = fg.Execute(context.Background(), func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})
	if err := fg.Ready(); err != nil {
		t.Fatalf("group with a healthy fallback not ready: %v", err)
	}

	_ = fg.Execute(context.Background(), func(string) error { return errTest })
	err = fg.Ready()
	if err == nil {
		t.Fatal("expected not ready once every circuit is open")
	}
	if !strings.Contains(err.Error(), "tts") || !strings.Contains(err.Error(), "secondary") {
		t.Errorf("err = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	opened := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "soven.provider.circuit_transitions" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("state")
				if s.AsString() == "open" {
					opened[p.AsString()] += dp.Value
				}
			}
		}
	}
	if opened["primary"] != 1 || opened["secondary"] != 1 {
		t.Errorf("open transitions = %v, want one per backend", opened)
	}
}
