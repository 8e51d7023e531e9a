package anyllm

import (
	"context"
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/soven/pkg/provider/llm"
)

func TestToParams(t *testing.T) {
	t.Parallel()

	greeting := []llm.Message{{Role: llm.RoleUser, Content: "Morning!"}}
	tests := []struct {
		name      string
		req       llm.CompletionRequest
		wantRoles []string
		wantTemp  *float64
		wantMax   *int
	}{
		{
			name:      "bare",
			req:       llm.CompletionRequest{Messages: greeting},
			wantRoles: []string{llm.RoleUser},
		},
		{
			name: "persona and tuning",
			req: llm.CompletionRequest{
				SystemPrompt: "You are Frank, a chatty coffee maker.",
				Messages:     greeting,
				Temperature:  0.3,
				MaxTokens:    120,
				JSONMode:     true,
			},
			wantRoles: []string{anyllmlib.RoleSystem, llm.RoleUser},
			wantTemp:  ptr(0.3),
			wantMax:   ptr(120),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := toParams("llama3.2", tt.req)
			if params.Model != "llama3.2" {
				t.Errorf("model = %q", params.Model)
			}
			var roles []string
			for _, m := range params.Messages {
				roles = append(roles, m.Role)
			}
			if !slices.Equal(roles, tt.wantRoles) {
				t.Errorf("roles = %v, want %v", roles, tt.wantRoles)
			}
			if last := params.Messages[len(params.Messages)-1]; last.ContentString() != "Morning!" {
				t.Errorf("last message = %q", last.ContentString())
			}
			if !equalPtr(params.Temperature, tt.wantTemp) {
				t.Errorf("temperature = %v, want %v", params.Temperature, tt.wantTemp)
			}
			if !equalPtr(params.MaxTokens, tt.wantMax) {
				t.Errorf("max tokens = %v, want %v", params.MaxTokens, tt.wantMax)
			}
		})
	}
}

func TestComplete_RequiresMessages(t *testing.T) {
	t.Parallel()

	p, err := NewOllama("llama3.2")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "You are Frank."})
	if !errors.Is(err, errNoMessages) {
		t.Fatalf("err = %v, want errNoMessages", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend  string
		model    string
		opts     []anyllmlib.Option
		wantName string
		wantErr  bool
	}{
		{backend: "ollama", model: "llama3.2", wantName: "ollama"},
		{backend: " Ollama ", model: "llama3.2", wantName: "ollama"},
		{backend: "llamacpp", model: "qwen2.5", wantName: "llamacpp"},
		{backend: "openai", model: "gpt-4o-mini", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}, wantName: "openai"},
		{backend: "anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}, wantName: "anthropic"},
		{backend: "", model: "llama3.2", wantErr: true},
		{backend: "ollama", model: "", wantErr: true},
		{backend: "toaster-cloud", model: "m1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.model, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Name() != tt.wantName || p.Model() != tt.model {
				t.Errorf("provider = %s/%s", p.Name(), p.Model())
			}
		})
	}
}

func TestNew_OpenAIWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected an error without an API key")
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()

	got := Supported()
	if !slices.IsSorted(got) || !slices.Contains(got, "ollama") || len(got) != len(backends) {
		t.Errorf("Supported() = %v", got)
	}
}

func ptr[T any](v T) *T { return &v }

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
