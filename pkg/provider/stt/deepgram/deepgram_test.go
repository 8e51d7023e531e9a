package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/soven/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.Request{}, 16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["keywords"]; ok {
		t.Error("expected no keywords param without hints")
	}
}

func TestBuildURL_LanguageAndHints(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("en"))
	rawURL, err := p.buildURL(stt.Request{Language: "en-GB", Hints: []string{"Frank", " "}}, 22050)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "en-GB", q.Get("language"))
	assertEqual(t, "sample_rate", "22050", q.Get("sample_rate"))
	if kws := q["keywords"]; len(kws) != 1 || kws[0] != "Frank:2" {
		t.Errorf("keywords: got %v", kws)
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
		want result
	}{
		{
			name: "final",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" Hey Frank ","confidence":0.9}]}}`,
			ok:   true,
			want: result{text: "Hey Frank", confidence: 0.9, final: true},
		},
		{
			name: "interim",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hey","confidence":0.5}]}}`,
			ok:   true,
			want: result{text: "Hey", confidence: 0.5},
		},
		{name: "metadata ends stream", raw: `{"type":"Metadata","request_id":"abc"}`, ok: true, want: result{done: true}},
		{name: "empty alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "speech started", raw: `{"type":"SpeechStarted"}`},
		{name: "invalid json", raw: `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDeepgramResponse([]byte(tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok: got %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

type received struct {
	audio int
	auth  string
}

// fakeDeepgram accepts one socket, counts audio bytes until CloseStream and
// then replies with the given messages before closing normally.
func fakeDeepgram(t *testing.T, replies []string, got chan<- received) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := received{auth: r.Header.Get("Authorization")}
		defer func() { got <- rec }()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				rec.audio += len(data)
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		for _, msg := range replies {
			if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
}

func TestRecognize_CollectsFinals(t *testing.T) {
	recv := make(chan received, 1)
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hey"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hey frank","confidence":0.8}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"start the coffee","confidence":0.6}]}}`,
		`{"type":"Metadata"}`,
	}, recv)
	defer srv.Close()

	p, _ := New("dg-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	pcm := make([]byte, 8000)
	got, err := p.Recognize(context.Background(), stt.Request{Audio: pcm, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Text != "hey frank start the coffee" {
		t.Errorf("text: got %q", got.Text)
	}
	if got.Confidence < 0.69 || got.Confidence > 0.71 {
		t.Errorf("confidence: got %v, want 0.7", got.Confidence)
	}
	rec := <-recv
	if rec.audio != len(pcm) {
		t.Errorf("server received %d audio bytes, want %d", rec.audio, len(pcm))
	}
	if rec.auth != "Token dg-key" {
		t.Errorf("authorization header: got %q", rec.auth)
	}
}

func TestRecognize_EmptyAudio(t *testing.T) {
	p, _ := New("key", WithEndpoint("ws://127.0.0.1:1"))
	got, err := p.Recognize(context.Background(), stt.Request{})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Text != "" {
		t.Errorf("expected empty text, got %q", got.Text)
	}
}

func TestRecognize_DialFailure(t *testing.T) {
	p, _ := New("key", WithEndpoint("ws://127.0.0.1:1"))
	if _, err := p.Recognize(context.Background(), stt.Request{Audio: make([]byte, 320)}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
