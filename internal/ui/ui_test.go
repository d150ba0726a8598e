package ui_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/waketurn/internal/ui"
)

// recorder is a Sink that stores a text form of every call.
type recorder struct {
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(s string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) SetState(s ui.State)       { r.add("state:" + string(s)) }
func (r *recorder) ShowUser(text string)      { r.add("user:" + text) }
func (r *recorder) ShowAssistant(text string) { r.add("assistant:" + text) }
func (r *recorder) Toast(msg string)          { r.add("toast:" + msg) }
func (r *recorder) Error(msg string)          { r.add("error:" + msg) }
func (r *recorder) Ping()                     { r.add("ping") }
func (r *recorder) SetNetwork(ok bool) {
	if ok {
		r.add("net:up")
	} else {
		r.add("net:down")
	}
}

func TestConsole(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := ui.NewConsole(&buf, "Karen")
	c.SetState(ui.StateListening)
	c.ShowUser("what time is it")
	c.ShowAssistant("mmkay")
	c.Toast("didn't catch that")
	c.Error("boom")
	c.Ping()
	c.SetNetwork(true)
	c.SetNetwork(true)
	c.SetNetwork(false)

	want := []string{
		"[ui] state = listening",
		"you: what time is it",
		"karen: mmkay",
		"[toast] didn't catch that",
		"[error] boom",
		"[ui] *beep*",
		"[net] up",
		"[net] down",
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("got %d lines %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAsync_ForwardsInOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := ui.NewAsync(rec, 16)
	a.SetState(ui.StateThinking)
	a.ShowUser("hi")
	a.ShowAssistant("hello")
	a.Ping()
	a.SetNetwork(false)
	a.Toast("t")
	a.Error("e")
	a.Close()

	want := []string{"state:thinking", "user:hi", "assistant:hello", "ping", "net:down", "toast:t", "error:e"}
	got := rec.get()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}

	// Events after Close are ignored.
	a.Toast("late")
	if n := len(rec.get()); n != len(want) {
		t.Errorf("event delivered after Close")
	}
}

func TestAsync_NeverBlocks(t *testing.T) {
	t.Parallel()

	rec := &recorder{block: make(chan struct{})}
	a := ui.NewAsync(rec, 2)

	done := make(chan struct{})
	go func() {
		for range 100 {
			a.Toast("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Async blocked on a stuck sink")
	}
	if a.Dropped() == 0 {
		t.Error("expected dropped events")
	}
	close(rec.block)
	a.Close()
}

func TestMulti(t *testing.T) {
	t.Parallel()

	r1, r2 := &recorder{}, &recorder{}
	m := ui.Multi{r1, r2, ui.Discard{}}
	m.Ping()
	m.SetState(ui.StateIdle)
	for _, r := range []*recorder{r1, r2} {
		if got := r.get(); len(got) != 2 || got[0] != "ping" || got[1] != "state:idle" {
			t.Errorf("member saw %v", got)
		}
	}
}

func TestFeed_BroadcastsJSON(t *testing.T) {
	t.Parallel()

	feed := ui.NewFeed()
	feed.SetState(ui.StateIdle)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() ui.Event {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev ui.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return ev
	}

	// The latest state is replayed on connect.
	if ev := read(); ev.Type != ui.EventState || ev.State != ui.StateIdle {
		t.Fatalf("first event = %+v, want idle state", ev)
	}

	for feed.Clients() != 1 {
		time.Sleep(time.Millisecond)
	}
	feed.ShowUser("hello")
	feed.SetNetwork(false)

	if ev := read(); ev.Type != ui.EventUser || ev.Text != "hello" {
		t.Errorf("event = %+v, want user hello", ev)
	}
	ev := read()
	if ev.Type != ui.EventNetwork || ev.OK == nil || *ev.OK {
		t.Errorf("event = %+v, want network down", ev)
	}
}
