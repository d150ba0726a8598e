package ui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is the JSON message broadcast by [Feed].
type Event struct {
	Type  string    `json:"type"`
	State State     `json:"state,omitempty"`
	Text  string    `json:"text,omitempty"`
	OK    *bool     `json:"ok,omitempty"`
	Time  time.Time `json:"time"`
}

// Event types.
const (
	EventState     = "state"
	EventUser      = "user"
	EventAssistant = "assistant"
	EventToast     = "toast"
	EventError     = "error"
	EventPing      = "ping"
	EventNetwork   = "network"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Feed broadcasts events to every connected WebSocket client. A client that
// falls behind loses events rather than slowing the others. Mount it as an
// http.Handler, typically at /events.
type Feed struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	now     func() time.Time
	last    *Event
}

var (
	_ Sink         = (*Feed)(nil)
	_ http.Handler = (*Feed)(nil)
)

// NewFeed returns a Feed with no clients.
func NewFeed() *Feed {
	return &Feed{clients: make(map[chan []byte]struct{}), now: time.Now}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. New clients first receive the latest state event.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("ui: feed accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ch := make(chan []byte, clientBuffer)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	if f.last != nil {
		if data, err := json.Marshal(f.last); err == nil {
			ch <- data
		}
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.clients, ch)
		f.mu.Unlock()
	}()

	// Reads only detect the peer closing; clients never send.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (f *Feed) publish(ev Event) {
	ev.Time = f.now()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Type == EventState {
		f.last = &ev
	}
	for ch := range f.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

func (f *Feed) SetState(s State)          { f.publish(Event{Type: EventState, State: s}) }
func (f *Feed) ShowUser(text string)      { f.publish(Event{Type: EventUser, Text: text}) }
func (f *Feed) ShowAssistant(text string) { f.publish(Event{Type: EventAssistant, Text: text}) }
func (f *Feed) Toast(msg string)          { f.publish(Event{Type: EventToast, Text: msg}) }
func (f *Feed) Error(msg string)          { f.publish(Event{Type: EventError, Text: msg}) }
func (f *Feed) Ping()                     { f.publish(Event{Type: EventPing}) }
func (f *Feed) SetNetwork(ok bool)        { f.publish(Event{Type: EventNetwork, OK: &ok}) }
