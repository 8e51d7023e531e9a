// Package coqui provides a Coqui TTS-backed provider that talks to one or more
// Coqui servers over their REST API.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; speakers are listed via GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body; speakers are listed via
//     GET /studio_speakers.
//
// A standard Coqui server loads a single model. Deployments that offer both
// the multi-speaker VCTK model and single-speaker models run one server per
// model and register each with WithModelServer; requests for an unregistered
// model go to the default server.
//
// Long replies are split into sentences that are synthesised concurrently and
// stitched back together in order.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithModelServer("tts_models/en/ljspeech/vits", "http://localhost:5003"),
//	)
//	audio, err := p.Synthesize(ctx, tts.Request{
//	    Text:  "Coffee is on its way.",
//	    Voice: tts.Voice{Model: "tts_models/en/vctk/vits", Speaker: "p297"},
//	    SampleRate: 16000,
//	})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/soven/pkg/audio"
	"github.com/MrWong99/soven/pkg/provider/tts"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// sentenceLookahead bounds how many sentence requests run at once.
	sentenceLookahead = 4
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server. Defaults to "en".
// Pass an empty string for single-language models that reject the parameter.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithModelServer routes synthesis for model to the server at serverURL.
func WithModelServer(model, serverURL string) Option {
	return func(p *Provider) {
		p.servers[model] = strings.TrimRight(serverURL, "/")
	}
}

// Provider implements tts.Provider backed by Coqui TTS servers.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	servers    map[string]string // model -> server URL
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Provider whose default server is serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		servers:   make(map[string]string),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	sentences := splitSentences(req.Text)
	if len(sentences) == 0 {
		return tts.Audio{}, errors.New("coqui: empty text")
	}
	if p.apiMode == APIModeXTTS && req.Voice.Speaker == "" {
		return tts.Audio{}, errors.New("coqui: XTTS mode requires a speaker")
	}

	parts := make([]tts.Audio, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sentenceLookahead)
	for i, s := range sentences {
		g.Go(func() error {
			a, err := p.synthesizeSentence(gctx, s, req.Voice)
			if err != nil {
				return err
			}
			parts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tts.Audio{}, err
	}

	outRate := req.SampleRate
	if outRate <= 0 {
		outRate = parts[0].SampleRate
	}
	var pcm []byte
	for _, a := range parts {
		pcm = append(pcm, audio.ResampleMono16(a.PCM, a.SampleRate, outRate)...)
	}
	return tts.Audio{PCM: pcm, SampleRate: outRate}, nil
}

// synthesizeSentence performs one HTTP synthesis call and returns mono PCM at
// the model's native rate.
func (p *Provider) synthesizeSentence(ctx context.Context, sentence string, voice tts.Voice) (tts.Audio, error) {
	var (
		req *http.Request
		err error
	)
	base := p.serverFor(voice.Model)
	if p.apiMode == APIModeStandard {
		req, err = p.standardRequest(ctx, base, sentence, voice)
	} else {
		req, err = p.xttsRequest(ctx, base, sentence, voice)
	}
	if err != nil {
		return tts.Audio{}, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Audio{}, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	info, err := audio.ParseWAV(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: %w", err)
	}
	if info.Channels > 2 {
		return tts.Audio{}, fmt.Errorf("coqui: unsupported channel count %d", info.Channels)
	}

	pcm := wav[info.DataOffset:]
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return tts.Audio{PCM: pcm, SampleRate: info.SampleRate}, nil
}

func (p *Provider) standardRequest(ctx context.Context, base, sentence string, voice tts.Voice) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.Speaker != "" {
		params.Set("speaker_id", voice.Speaker)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

func (p *Provider) xttsRequest(ctx context.Context, base, sentence string, voice tts.Voice) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       sentence,
		SpeakerWav: voice.Speaker,
		Language:   p.language,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) serverFor(model string) string {
	if u, ok := p.servers[model]; ok {
		return u
	}
	return p.serverURL
}

// ListVoices implements tts.VoiceLister. It queries every configured server
// and returns their speakers sorted by model, then speaker.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	urls := []string{p.serverURL}
	for _, u := range p.servers {
		if u != p.serverURL {
			urls = append(urls, u)
		}
	}
	sort.Strings(urls[1:])

	var voices []tts.Voice
	for _, u := range urls {
		var (
			vs  []tts.Voice
			err error
		)
		if p.apiMode == APIModeStandard {
			vs, err = p.listStandard(ctx, u)
		} else {
			vs, err = p.listXTTS(ctx, u)
		}
		if err != nil {
			return nil, err
		}
		voices = append(voices, vs...)
	}
	sort.SliceStable(voices, func(i, j int) bool {
		if voices[i].Model != voices[j].Model {
			return voices[i].Model < voices[j].Model
		}
		return voices[i].Speaker < voices[j].Speaker
	})
	return voices, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func (p *Provider) listStandard(ctx context.Context, base string) ([]tts.Voice, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, base+detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) == 0 {
		return []tts.Voice{{Model: details.ModelName}}, nil
	}
	voices := make([]tts.Voice, 0, len(details.Speakers))
	for _, spk := range details.Speakers {
		voices = append(voices, tts.Voice{Model: details.ModelName, Speaker: spk})
	}
	return voices, nil
}

func (p *Provider) listXTTS(ctx context.Context, base string) ([]tts.Voice, error) {
	var raw map[string]json.RawMessage
	if err := p.getJSON(ctx, base+studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}
	voices := make([]tts.Voice, 0, len(raw))
	for name := range raw {
		voices = append(voices, tts.Voice{Model: "xtts", Speaker: name})
	}
	return voices, nil
}

// splitSentences cuts text at '.', '!' or '?' followed by whitespace or the
// end of the string. Blank pieces are dropped.
func splitSentences(text string) []string {
	var out []string
	rest := strings.TrimSpace(text)
	for rest != "" {
		i := findSentenceBoundary(rest)
		if i < 0 {
			out = append(out, rest)
			break
		}
		if s := strings.TrimSpace(rest[:i+1]); s != "" {
			out = append(out, s)
		}
		rest = strings.TrimSpace(rest[i+1:])
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending
// punctuation mark in s, or -1.
func findSentenceBoundary(s string) int {
	for i := range len(s) {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
