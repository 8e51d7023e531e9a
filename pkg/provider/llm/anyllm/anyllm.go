// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider].
//
// One adapter covers every backend any-llm-go speaks (a local Ollama daemon,
// llama.cpp servers and the hosted APIs), so soven can point personality
// extraction and dialogue at whichever model the operator runs:
//
//	p, err := anyllm.New("ollama", "llama3.2")
//	p, err := anyllm.New("groq", "llama-3.1-8b-instant", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/soven/pkg/provider/llm"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

func adapt[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var backends = map[string]constructor{
	"ollama":    adapt(ollama.New),
	"openai":    adapt(anyllmoai.New),
	"anthropic": adapt(anthropic.New),
	"gemini":    adapt(gemini.New),
	"deepseek":  adapt(deepseek.New),
	"mistral":   adapt(mistral.New),
	"groq":      adapt(groq.New),
	"llamacpp":  adapt(llamacpp.New),
	"llamafile": adapt(llamafile.New),
}

// Supported returns the backend names accepted by [New], sorted.
func Supported() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var errNoMessages = errors.New("anyllm: request has no messages")

// Provider sends completions through one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New builds a provider for the named backend. Without an API key option
// hosted backends read their usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	switch {
	case name == "":
		return nil, errors.New("anyllm: backend name is required")
	case model == "":
		return nil, fmt.Errorf("anyllm: %s: model is required", name)
	}
	ctor, known := backends[name]
	if !known {
		return nil, fmt.Errorf("anyllm: unknown backend %q (known: %s)", backend, strings.Join(Supported(), ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: init %s: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// NewOllama talks to an Ollama daemon, http://localhost:11434 unless a base
// URL option says otherwise.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Model returns the configured model.
func (p *Provider) Model() string { return p.model }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errNoMessages
	}
	resp, err := p.backend.Completion(ctx, toParams(p.model, req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s/%s: %w", p.name, p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// toParams maps a request onto any-llm-go parameters. JSONMode is dropped;
// not every backend honours a response format and the extraction prompt asks
// for JSON anyway.
func toParams(model string, req llm.CompletionRequest) anyllmlib.CompletionParams {
	var msgs []anyllmlib.Message
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: model, Messages: msgs}
	if temp := req.Temperature; temp != 0 {
		params.Temperature = &temp
	}
	if limit := req.MaxTokens; limit > 0 {
		params.MaxTokens = &limit
	}
	return params
}

var _ llm.Provider = (*Provider)(nil)
