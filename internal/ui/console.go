package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console prints events as single lines, e.g. for a terminal or a systemd
// journal.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	assistant string
	netOK     *bool
}

var _ Sink = (*Console)(nil)

// NewConsole writes to w and labels assistant lines with assistant (for
// example the persona name).
func NewConsole(w io.Writer, assistant string) *Console {
	if assistant == "" {
		assistant = "assistant"
	}
	return &Console{w: w, assistant: assistant}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

// SetState implements [Sink].
func (c *Console) SetState(s State) { c.printf("[ui] state = %s", s) }

// ShowUser implements [Sink].
func (c *Console) ShowUser(text string) { c.printf("you: %s", text) }

// ShowAssistant implements [Sink].
func (c *Console) ShowAssistant(text string) {
	c.printf("%s: %s", strings.ToLower(c.assistant), text)
}

// Toast implements [Sink].
func (c *Console) Toast(msg string) { c.printf("[toast] %s", msg) }

// Error implements [Sink].
func (c *Console) Error(msg string) { c.printf("[error] %s", msg) }

// Ping implements [Sink].
func (c *Console) Ping() { c.printf("[ui] *beep*") }

// SetNetwork implements [Sink]. Only changes are printed.
func (c *Console) SetNetwork(ok bool) {
	c.mu.Lock()
	changed := c.netOK == nil || *c.netOK != ok
	c.netOK = &ok
	c.mu.Unlock()
	if !changed {
		return
	}
	if ok {
		c.printf("[net] up")
	} else {
		c.printf("[net] down")
	}
}
