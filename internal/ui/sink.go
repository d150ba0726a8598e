// Package ui carries turn progress to the user.
//
// The turn loop talks to a [Sink] with fire-and-forget calls. Concrete sinks
// are [Console] (line-oriented text), [Feed] (JSON events over WebSocket) and
// [Multi] (fan-out). Wrap any sink in [Async] before handing it to the loop
// so a slow consumer can never stall a turn.
package ui

// State is the assistant's visible activity.
type State string

// States shown during a turn.
const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
)

// Sink receives presentation events. Implementations must be safe for
// concurrent use.
type Sink interface {
	// SetState shows the current activity.
	SetState(s State)

	// ShowUser displays what the user said.
	ShowUser(text string)

	// ShowAssistant displays what the assistant says.
	ShowAssistant(text string)

	// Toast shows a transient notice.
	Toast(msg string)

	// Error shows a turn failure.
	Error(msg string)

	// Ping acknowledges an accepted wake.
	Ping()

	// SetNetwork shows network reachability.
	SetNetwork(ok bool)
}

// Multi fans every call out to each member in order.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) SetState(s State) {
	for _, x := range m {
		x.SetState(s)
	}
}

func (m Multi) ShowUser(text string) {
	for _, x := range m {
		x.ShowUser(text)
	}
}

func (m Multi) ShowAssistant(text string) {
	for _, x := range m {
		x.ShowAssistant(text)
	}
}

func (m Multi) Toast(msg string) {
	for _, x := range m {
		x.Toast(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, x := range m {
		x.Error(msg)
	}
}

func (m Multi) Ping() {
	for _, x := range m {
		x.Ping()
	}
}

func (m Multi) SetNetwork(ok bool) {
	for _, x := range m {
		x.SetNetwork(ok)
	}
}

// Discard ignores every event.
type Discard struct{}

var _ Sink = Discard{}

func (Discard) SetState(State)       {}
func (Discard) ShowUser(string)      {}
func (Discard) ShowAssistant(string) {}
func (Discard) Toast(string)         {}
func (Discard) Error(string)         {}
func (Discard) Ping()                {}
func (Discard) SetNetwork(bool)      {}
