package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/waketurn/pkg/provider/stt/whisper"
)

// newMockServer creates a test server that responds to POST /inference with
// a JSON body containing responseText. It records the uploaded WAV and the
// language field.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, gotWAV *[]byte, gotLang *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if gotWAV != nil {
			*gotWAV = data
		}
		if gotLang != nil {
			*gotLang = r.FormValue("language")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var wav []byte
	var lang string
	srv := newMockServer(t, "  what time is it \n", &calls, &wav, &lang)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"), whisper.WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	samples := make([]float32, 1600)
	text, err := p.Transcribe(context.Background(), samples, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what time is it" {
		t.Errorf("text = %q, want trimmed transcript", text)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if lang != "de" {
		t.Errorf("language = %q, want de", lang)
	}
	if len(wav) != 44+2*len(samples) {
		t.Fatalf("wav size = %d, want %d", len(wav), 44+2*len(samples))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("upload is not a RIFF/WAVE file")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("wav sample rate = %d, want 16000", rate)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Errorf("wav channels = %d, want 1", ch)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	t.Parallel()

	for _, reply := range []string{"", "[BLANK_AUDIO]", " (silence)\n"} {
		srv := newMockServer(t, reply, nil, nil, nil)
		p, _ := whisper.New(srv.URL)
		text, err := p.Transcribe(context.Background(), []float32{0}, 16000)
		if err != nil {
			t.Fatalf("Transcribe(%q): %v", reply, err)
		}
		if text != "" {
			t.Errorf("server said %q: text = %q, want empty", reply, text)
		}
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), []float32{0.1}, 16000)
	if err == nil {
		t.Fatal("expected error for HTTP 503")
	}
	for _, want := range []string{"503", "model not loaded"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestTranscribe_InvalidRate(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), []float32{0.1}, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, "hi", nil, nil, nil)
	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, []float32{0.1}, 16000); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
