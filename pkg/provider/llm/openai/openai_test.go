package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/soven/pkg/provider/llm"
)

func TestChatParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     llm.CompletionRequest
		check   func(t *testing.T, p oai.ChatCompletionNewParams)
		wantErr bool
	}{
		{
			name: "roles map to unions",
			req: llm.CompletionRequest{Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Stay in character."},
				{Role: llm.RoleUser, Content: "Morning!"},
				{Role: llm.RoleAssistant, Content: "Morning, sunshine."},
			}},
			check: func(t *testing.T, p oai.ChatCompletionNewParams) {
				m := p.Messages
				if len(m) != 3 || m[0].OfSystem == nil || m[1].OfUser == nil || m[2].OfAssistant == nil {
					t.Errorf("messages = %+v", m)
				}
			},
		},
		{
			name: "json mode with system prompt",
			req: llm.CompletionRequest{
				SystemPrompt: "Return JSON.",
				Messages:     []llm.Message{{Role: llm.RoleUser, Content: "story"}},
				JSONMode:     true,
			},
			check: func(t *testing.T, p oai.ChatCompletionNewParams) {
				if len(p.Messages) != 2 || p.Messages[0].OfSystem == nil {
					t.Errorf("messages = %+v", p.Messages)
				}
				if p.ResponseFormat.OfJSONObject == nil {
					t.Error("json_object response format not set")
				}
			},
		},
		{
			name:    "unknown role",
			req:     llm.CompletionRequest{Messages: []llm.Message{{Role: "tool", Content: "x"}}},
			wantErr: true,
		},
		{
			name:    "no messages",
			req:     llm.CompletionRequest{SystemPrompt: "x"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := chatParams("gpt-4o-mini", tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("chatParams: %v", err)
			}
			tt.check(t, p)
		})
	}
}

func TestComplete_AgainstServer(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Brewing now."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "coffee please"}},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Brewing now." {
		t.Errorf("content: got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens: got %d", resp.Usage.TotalTokens)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("model sent: %v", gotBody["model"])
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		model   string
		opts    []Option
		wantErr bool
	}{
		{name: "hosted", key: "sk-test", model: "gpt-4o", opts: []Option{WithOrganization("org-123"), WithTimeout(time.Second)}},
		{name: "hosted without key", model: "gpt-4o", wantErr: true},
		{name: "local without key", model: "llama3.2", opts: []Option{WithBaseURL("http://localhost:11434/v1/")}},
		{name: "no model", key: "sk-test", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.key, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Model() != tt.model {
				t.Errorf("model = %q", p.Model())
			}
		})
	}
}
