package malgo

import (
	"sync"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// handoff passes one chunk at a time from a blocking writer to the driver's
// pull callback.
type handoff struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []float32
	closed  bool
}

func newHandoff() *handoff {
	h := &handoff{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// fill copies as much of the pending chunk as fits into out, pads the rest
// with silence, and wakes the writer once the chunk is fully consumed.
func (h *handoff) fill(out []byte) {
	h.mu.Lock()
	n := audio.PutFloat32(out, h.pending)
	h.pending = h.pending[n:]
	drained := len(h.pending) == 0
	h.mu.Unlock()

	clear(out[n*4:])
	if drained {
		h.cond.Broadcast()
	}
}

// write blocks until samples were fully consumed by fill. A shut that lands
// while samples are queued or playing fails the write with ErrStreamClosed.
func (h *handoff) write(samples []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for !h.closed && len(h.pending) > 0 {
		h.cond.Wait()
	}
	if h.closed {
		return ErrStreamClosed
	}
	h.pending = samples
	for !h.closed && len(h.pending) > 0 {
		h.cond.Wait()
	}
	if h.closed {
		return ErrStreamClosed
	}
	return nil
}

// shut drops any queued samples and releases blocked writers.
func (h *handoff) shut() {
	h.mu.Lock()
	h.closed = true
	h.pending = nil
	h.mu.Unlock()
	h.cond.Broadcast()
}
