// Package openai talks to the OpenAI chat completions API and to the many
// local servers that imitate it (vLLM, LM Studio, llama.cpp, Ollama's /v1).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/soven/pkg/provider/llm"
)

// localKey is sent to compatible servers that ignore authentication.
const localKey = "unused"

// Option tunes the client built by [New].
type Option func(*settings)

type settings struct {
	baseURL string
	extra   []option.RequestOption
}

// WithBaseURL points the client at a compatible server. An API key becomes
// optional once a base URL is set.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.baseURL = url
		s.extra = append(s.extra, option.WithBaseURL(url))
	}
}

// WithOrganization sends the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.extra = append(s.extra, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.extra = append(s.extra, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// WithMaxRetries replaces the SDK's retry budget. Negative values keep it.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.extra = append(s.extra, option.WithMaxRetries(n))
		}
	}
}

// Provider is an [llm.Provider] over the chat completions endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// New returns a provider for model. apiKey may only be empty together with
// [WithBaseURL].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model is required")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if apiKey == "" {
		if s.baseURL == "" {
			return nil, errors.New("openai: api key is required for the hosted API")
		}
		apiKey = localKey
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, s.extra...)
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model returns the configured model.
func (p *Provider) Model() string { return p.model }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := chatParams(p.model, req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %s returned no choices", p.model)
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("openai: %s refused: %s", p.model, msg.Refusal)
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

var roleMessages = map[string]func(string) oai.ChatCompletionMessageParamUnion{
	llm.RoleSystem: func(s string) oai.ChatCompletionMessageParamUnion { return oai.SystemMessage(s) },
	llm.RoleUser:   func(s string) oai.ChatCompletionMessageParamUnion { return oai.UserMessage(s) },
	llm.RoleAssistant: func(s string) oai.ChatCompletionMessageParamUnion {
		return oai.AssistantMessage(s)
	},
}

// chatParams maps a request onto SDK parameters. JSONMode selects the
// json_object response format.
func chatParams(model string, req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var none oai.ChatCompletionNewParams
	if len(req.Messages) == 0 {
		return none, errors.New("openai: request has no messages")
	}

	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		build, known := roleMessages[m.Role]
		if !known {
			return none, fmt.Errorf("openai: message %d has unsupported role %q", i, m.Role)
		}
		msgs = append(msgs, build(m.Content))
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
	}
	return params, nil
}

var _ llm.Provider = (*Provider)(nil)
