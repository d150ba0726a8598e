package ui

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the event backlog of an [Async] sink.
const DefaultQueueSize = 128

// Async forwards events to an inner sink on its own goroutine. Calls never
// block: when the queue is full the event is dropped and counted.
type Async struct {
	inner Sink
	ch    chan func(Sink)
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ Sink = (*Async)(nil)

// NewAsync starts forwarding to inner through a queue of size events. A
// non-positive size selects [DefaultQueueSize].
func NewAsync(inner Sink, size int) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		inner: inner,
		ch:    make(chan func(Sink), size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for fn := range a.ch {
		fn(a.inner)
	}
}

func (a *Async) enqueue(fn func(Sink)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- fn:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events, delivers the backlog and waits for the
// forwarding goroutine to exit.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}

func (a *Async) SetState(s State)          { a.enqueue(func(x Sink) { x.SetState(s) }) }
func (a *Async) ShowUser(text string)      { a.enqueue(func(x Sink) { x.ShowUser(text) }) }
func (a *Async) ShowAssistant(text string) { a.enqueue(func(x Sink) { x.ShowAssistant(text) }) }
func (a *Async) Toast(msg string)          { a.enqueue(func(x Sink) { x.Toast(msg) }) }
func (a *Async) Error(msg string)          { a.enqueue(func(x Sink) { x.Error(msg) }) }
func (a *Async) Ping()                     { a.enqueue(func(x Sink) { x.Ping() }) }
func (a *Async) SetNetwork(ok bool)        { a.enqueue(func(x Sink) { x.SetNetwork(ok) }) }
