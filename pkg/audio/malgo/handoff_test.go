package malgo

import (
	"errors"
	"testing"
	"time"
)

// period is one driver callback's worth of float32 bytes.
func period(samples int) []byte { return make([]byte, samples*4) }

// waitPending blocks until the writer has queued its chunk.
func waitPending(t *testing.T, h *handoff) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		n := len(h.pending)
		h.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("writer never queued its chunk")
}

func TestHandoff_Write(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pull    int // samples consumed by fill before shut; -1 = no shut
		wantErr error
	}{
		{name: "fully played", pull: -1},
		{name: "shut before playback", pull: 0, wantErr: ErrStreamClosed},
		{name: "shut mid-chunk", pull: 2, wantErr: ErrStreamClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHandoff()
			done := make(chan error, 1)
			go func() { done <- h.write([]float32{0.1, 0.2, 0.3, 0.4}) }()
			waitPending(t, h)

			if tt.pull < 0 {
				h.fill(period(3))
				h.fill(period(3))
			} else {
				if tt.pull > 0 {
					h.fill(period(tt.pull))
				}
				h.shut()
			}

			select {
			case err := <-done:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("write = %v, want %v", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("write did not return")
			}
		})
	}
}

func TestHandoff_FillPadsWithSilence(t *testing.T) {
	t.Parallel()

	h := newHandoff()
	h.pending = []float32{0.5}
	out := period(3)
	for i := range out {
		out[i] = 0xff
	}
	h.fill(out)
	for i, b := range out[4:] {
		if b != 0 {
			t.Fatalf("byte %d after the chunk = %#x, want silence", i+4, b)
		}
	}
	if len(h.pending) != 0 {
		t.Errorf("pending = %v, want drained", h.pending)
	}
}

func TestHandoff_WriteAfterShut(t *testing.T) {
	t.Parallel()

	h := newHandoff()
	h.shut()
	if err := h.write([]float32{0.1}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("write after shut = %v, want ErrStreamClosed", err)
	}
}
