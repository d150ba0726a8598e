package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/waketurn/pkg/audio"
	ttsmock "github.com/MrWong99/waketurn/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Err: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{Chunks: [][]float32{{0.1, 0.2}, {0.3}}, SampleRate: 24000}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	seg, err := fb.Synthesize(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", seg.SampleRate)
	}
	var n int
	for c := range seg.Chunks {
		n += len(c)
	}
	if n != 3 {
		t.Errorf("samples = %d, want 3", n)
	}
	if texts := secondary.Texts(); len(texts) != 1 || texts[0] != "hi there" {
		t.Errorf("secondary texts = %v", texts)
	}
}

func TestTTSFallback_StreamErrorNotRetried(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Chunks: [][]float32{{0.1}}, StreamErr: errTest}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	seg, err := fb.Synthesize(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	audio.Drain(seg.Chunks)
	if !errors.Is(seg.Err(), errTest) {
		t.Errorf("segment err = %v, want errTest", seg.Err())
	}
	if len(secondary.Calls()) != 0 {
		t.Error("mid-stream error triggered failover")
	}
}
