package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	for key, want := range map[string]string{
		"model":       "nova-3",
		"language":    "en",
		"punctuate":   "true",
		"encoding":    "linear16",
		"sample_rate": "16000",
		"channels":    "1",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestBuildURL_Options(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithKeywords("Karen:5", "Plankton:3"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, _ := p.buildURL(48000)
	u, _ := url.Parse(rawURL)
	q := u.Query()
	if q.Get("model") != "base" || q.Get("language") != "de-DE" || q.Get("sample_rate") != "48000" {
		t.Errorf("unexpected query %v", q)
	}
	if kws := q["keywords"]; len(kws) != 2 || kws[0] != "Karen:5" {
		t.Errorf("keywords = %v", kws)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		msg       string
		wantText  string
		wantFinal bool
		wantOK    bool
	}{
		{
			name:      "final",
			msg:       `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" hello there ","confidence":0.9}]}}`,
			wantText:  "hello there",
			wantFinal: true,
			wantOK:    true,
		},
		{
			name:     "interim",
			msg:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
			wantText: "hel",
			wantOK:   true,
		},
		{name: "metadata", msg: `{"type":"Metadata"}`},
		{name: "no alternatives", msg: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "garbage", msg: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, final, ok := parseDeepgramResponse([]byte(tt.msg))
			if text != tt.wantText || final != tt.wantFinal || ok != tt.wantOK {
				t.Errorf("got (%q, %v, %v), want (%q, %v, %v)", text, final, ok, tt.wantText, tt.wantFinal, tt.wantOK)
			}
		})
	}
}

// fakeDeepgram accepts one connection, counts audio bytes until CloseStream,
// then replies with finals and closes normally.
func fakeDeepgram(t *testing.T, finals []string, gotBytes *atomic.Int64, gotAuth *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				gotBytes.Add(int64(len(data)))
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		for _, text := range finals {
			msg, _ := json.Marshal(map[string]any{
				"type":     "Results",
				"is_final": true,
				"channel":  map[string]any{"alternatives": []map[string]any{{"transcript": text}}},
			})
			_ = conn.Write(ctx, websocket.MessageText, msg)
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe_StreamsAndJoinsFinals(t *testing.T) {
	t.Parallel()

	var gotBytes atomic.Int64
	var gotAuth atomic.Value
	srv := fakeDeepgram(t, []string{"what time", "is it"}, &gotBytes, &gotAuth)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	samples := make([]float32, 4000)
	text, err := p.Transcribe(ctx, samples, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what time is it" {
		t.Errorf("text = %q, want %q", text, "what time is it")
	}
	if n := gotBytes.Load(); n != int64(2*len(samples)) {
		t.Errorf("server received %d audio bytes, want %d", n, 2*len(samples))
	}
	if auth, _ := gotAuth.Load().(string); auth != "Token secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	t.Parallel()

	var gotBytes atomic.Int64
	var gotAuth atomic.Value
	srv := fakeDeepgram(t, nil, &gotBytes, &gotAuth)

	p, _ := New("k", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	text, err := p.Transcribe(context.Background(), []float32{0}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}
