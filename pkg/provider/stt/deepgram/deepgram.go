// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. Each Recognize call opens a socket, streams the
// utterance, asks Deepgram to flush with CloseStream and collects the final
// results until the server closes the connection.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/soven/pkg/audio"
	"github.com/MrWong99/soven/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// hintBoost is the keyword boost applied to every recognition hint.
	hintBoost = 2

	// sendChunkSize is how much PCM goes into one websocket frame (~100 ms
	// at 16 kHz).
	sendChunkSize = 3200
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint. Intended for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize implements stt.Provider.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	out := stt.Transcript{Duration: audio.Duration(req.Audio, sr)}
	if len(req.Audio) < audio.BytesPerSample {
		return out, nil
	}

	wsURL, err := p.buildURL(req, sr)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.send(ctx, conn, req.Audio)
	}()

	var (
		parts []string
		conf  float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stt.Transcript{}, ctxErr
			}
			if len(parts) > 0 {
				break
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}

		r, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if r.final && r.text != "" {
			parts = append(parts, r.text)
			conf += r.confidence
		}
		if r.done {
			break
		}
	}
	if err := <-writeErr; err != nil && len(parts) == 0 {
		return stt.Transcript{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	out.Text = strings.Join(parts, " ")
	if len(parts) > 0 {
		out.Confidence = conf / float64(len(parts))
	}
	return out, nil
}

// send streams pcm in frames and asks Deepgram to flush.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for _, chunk := range audio.Chunks(pcm, sendChunkSize) {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// buildURL constructs the streaming endpoint URL for req.
func (p *Provider) buildURL(req stt.Request, sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	for _, h := range req.Hints {
		if h = strings.TrimSpace(h); h != "" {
			q.Add("keywords", fmt.Sprintf("%s:%d", h, hintBoost))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	confidence float64
	final      bool
	done       bool
}

// parseDeepgramResponse parses a raw Deepgram message. Metadata marks the
// end of the stream. Returns false if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	switch resp.Type {
	case "Metadata":
		return result{done: true}, true
	case "Results":
	default:
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return result{
		text:       strings.TrimSpace(alt.Transcript),
		confidence: alt.Confidence,
		final:      resp.IsFinal,
	}, true
}
