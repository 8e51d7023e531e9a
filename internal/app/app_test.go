package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/soven/internal/app"
	appliancemock "github.com/MrWong99/soven/internal/appliance/mock"
	"github.com/MrWong99/soven/internal/config"
	"github.com/MrWong99/soven/internal/dialogue"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/internal/resilience"
	"github.com/MrWong99/soven/pkg/provider/llm"
	llmmock "github.com/MrWong99/soven/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/soven/pkg/provider/stt/mock"
	"github.com/MrWong99/soven/pkg/provider/tts"
	ttsmock "github.com/MrWong99/soven/pkg/provider/tts/mock"
	"github.com/MrWong99/soven/pkg/voice"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// testProviders returns mock providers for every slot.
func testProviders(reply string) *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{Reply: &llm.CompletionResponse{Content: reply}},
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{Result: tts.Audio{PCM: make([]byte, 320), SampleRate: 16000}},
	}
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithStore(personality.NewMemStore()),
		app.WithDispatcher(&appliancemock.Dispatcher{}),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func request(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_NilConfig(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNew_BadCatalogFile(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Voices: config.VoicesConfig{CatalogFile: t.TempDir() + "/missing.yaml"}}
	_, err := app.New(context.Background(), cfg, testProviders(""), app.WithMetrics(testMetrics(t)))
	if err == nil || !strings.Contains(err.Error(), "catalog") {
		t.Fatalf("err = %v, want catalog error", err)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	a := newApp(t, &config.Config{}, testProviders("Coming right up."))
	h := a.Handler()

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/voices/list", "", http.StatusOK},
		{http.MethodGet, "/api/sessions", "", http.StatusOK},
		{http.MethodPost, "/api/personality/create", `{"entity_id":"frank","name":"Frank","description":"Loves mornings."}`, http.StatusCreated},
		{http.MethodGet, "/api/personality/nobody", "", http.StatusNotFound},
		// Plain GET without an upgrade is refused by the websocket handler.
		{http.MethodGet, "/ws/audio/frank", "", http.StatusUpgradeRequired},
	}
	for _, tt := range tests {
		rec := request(t, h, tt.method, tt.path, tt.body, nil)
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestHandler_ReadinessTracksProviderCircuits(t *testing.T) {
	t.Parallel()

	providers := testProviders("")
	providers.LLM = resilience.NewLLMFallback(
		&llmmock.Provider{Err: errors.New("ollama: connection refused")},
		"ollama",
		resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}},
	)
	h := newApp(t, &config.Config{}, providers).Handler()

	readiness := func() (int, map[string]string) {
		rec := request(t, h, http.MethodGet, "/readyz", "", nil)
		var body struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode readyz: %v", err)
		}
		return rec.Code, body.Checks
	}

	if code, checks := readiness(); code != http.StatusOK || checks["llm_backends"] != "ok" {
		t.Fatalf("before failures: %d %v", code, checks)
	}

	// Extraction fails against the only backend and trips its circuit.
	rec := request(t, h, http.MethodPost, "/api/personality/create", `{"entity_id":"frank","name":"Frank","description":"Loves mornings."}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d (%s)", rec.Code, rec.Body.String())
	}

	code, checks := readiness()
	if code != http.StatusServiceUnavailable || !strings.HasPrefix(checks["llm_backends"], "fail:") {
		t.Errorf("after failures: %d %v", code, checks)
	}
}

func TestNew_WithCatalog(t *testing.T) {
	t.Parallel()

	cat, err := voice.New([]voice.Entry{
		{Code: "jenny", Model: "tts_models/en/jenny/jenny", Gender: voice.GenderFemale, Age: 30, Accent: voice.AccentBritish},
		{Code: "p297", Model: "tts_models/en/vctk/vits", Speaker: "p297", Gender: voice.GenderFemale, Age: 20, Accent: voice.AccentAmerican},
	})
	if err != nil {
		t.Fatalf("voice.New: %v", err)
	}
	h := newApp(t, &config.Config{}, testProviders(""), app.WithCatalog(cat)).Handler()

	rec := request(t, h, http.MethodGet, "/api/voices/list", "", nil)
	var body struct {
		Default string `json:"default"`
		Count   int    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Default != "jenny" {
		t.Errorf("voices = %+v, want the injected catalog", body)
	}
}

func TestHandler_ServiceInfo(t *testing.T) {
	t.Parallel()

	a := newApp(t, &config.Config{}, testProviders(""))
	rec := request(t, a.Handler(), http.MethodGet, "/api/health", "", nil)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["service"] != "soven-api" || body["voices_available"].(float64) < 1 {
		t.Errorf("health = %v", body)
	}
}

func TestHandler_APIKey(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Server: config.ServerConfig{APIKey: "s3cret"}}
	h := newApp(t, cfg, testProviders("")).Handler()

	if rec := request(t, h, http.MethodGet, "/api/voices/list", "", nil); rec.Code != http.StatusForbidden {
		t.Errorf("without key = %d, want 403", rec.Code)
	}
	if rec := request(t, h, http.MethodGet, "/api/voices/list", "", map[string]string{"X-API-Key": "s3cret"}); rec.Code != http.StatusOK {
		t.Errorf("with key = %d, want 200", rec.Code)
	}
	if rec := request(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestHandler_RealtimeDisabledWithoutAudioProviders(t *testing.T) {
	t.Parallel()

	providers := testProviders("")
	providers.STT = nil
	a := newApp(t, &config.Config{}, providers)

	if rec := request(t, a.Handler(), http.MethodGet, "/ws/audio/frank", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("ws route = %d, want 404", rec.Code)
	}
	// The rest of the API keeps working.
	if rec := request(t, a.Handler(), http.MethodGet, "/api/voices/list", "", nil); rec.Code != http.StatusOK {
		t.Errorf("voices = %d", rec.Code)
	}
}

type turnBody struct {
	Reply    string   `json:"reply"`
	Commands []string `json:"commands"`
}

func turn(t *testing.T, h http.Handler) turnBody {
	t.Helper()
	rec := request(t, h, http.MethodPost, "/api/dialogue/turn", `{"entity_id":"frank","utterance":"lights please"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("turn = %d: %s", rec.Code, rec.Body.String())
	}
	var body turnBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	cfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	a := newApp(t, cfg, testProviders("Switching the lights off now."), app.WithLevelVar(&level))
	h := a.Handler()

	rec := request(t, h, http.MethodPost, "/api/personality/create", `{"entity_id":"frank","name":"Frank","description":"Night owl."}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}
	if got := turn(t, h); len(got.Commands) != 0 {
		t.Fatalf("commands before reload = %v", got.Commands)
	}

	next := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogDebug},
		Dialogue: config.DialogueConfig{Triggers: []dialogue.Trigger{
			{Phrase: "lights off", Command: "lights_off"},
		}},
		Session: config.SessionConfig{SilenceTimeout: config.Duration(2 * time.Second)},
	}
	if err := a.ApplyConfig(next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %s, want debug", level.Level())
	}
	if got := turn(t, h); len(got.Commands) != 1 || got.Commands[0] != "lights_off" {
		t.Errorf("commands after reload = %v", got.Commands)
	}
	if a.Config() != next {
		t.Error("Config() does not return the applied config")
	}
}

func TestApplyConfig_InvalidSession(t *testing.T) {
	t.Parallel()

	a := newApp(t, &config.Config{}, testProviders(""))
	err := a.ApplyConfig(&config.Config{Session: config.SessionConfig{ChunkSize: 1001}})
	if err == nil || !strings.Contains(err.Error(), "session") {
		t.Errorf("err = %v, want session error", err)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	a := newApp(t, &config.Config{}, testProviders(""))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newApp(t, &config.Config{}, testProviders(""))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
