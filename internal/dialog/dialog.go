// Package dialog turns a transcribed utterance into the assistant's reply.
//
// A [Responder] owns the conversation: it prepends the persona's system
// prompt, keeps a bounded rolling history of recent exchanges and maps any
// tool calls the model makes to [Action] values. Actions are returned to the
// caller and never executed here.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/waketurn/pkg/provider/llm"
)

// DefaultMaxHistory is the number of past messages kept when no limit is
// configured (five exchanges).
const DefaultMaxHistory = 10

// Action is a side effect the model asked for.
type Action struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Reply is the result of one Respond call.
type Reply struct {
	Text    string
	Actions []Action
	Usage   llm.Usage

	// Truncated is set when the model hit its token cap mid-reply.
	Truncated bool
}

// Option configures a Responder.
type Option func(*Responder)

// WithPersona replaces the default [Karen] persona.
func WithPersona(p Persona) Option {
	return func(r *Responder) { r.persona = p }
}

// WithMaxHistory bounds the number of remembered messages. Zero disables
// history entirely.
func WithMaxHistory(n int) Option {
	return func(r *Responder) { r.maxHistory = max(0, n) }
}

// WithTools offers tool definitions to the model.
func WithTools(tools ...llm.ToolDefinition) Option {
	return func(r *Responder) { r.tools = append(r.tools, tools...) }
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int) Option {
	return func(r *Responder) { r.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *Responder) { r.temperature = t }
}

// Responder produces persona replies. Concurrent calls are serialized so
// the history stays coherent.
type Responder struct {
	provider    llm.Provider
	tools       []llm.ToolDefinition
	maxTokens   int
	temperature float64

	mu         sync.Mutex
	persona    Persona
	maxHistory int
	history    []llm.Message
}

// New returns a Responder backed by provider.
func New(provider llm.Provider, opts ...Option) (*Responder, error) {
	if provider == nil {
		return nil, errors.New("dialog: provider must not be nil")
	}
	r := &Responder{
		provider:   provider,
		persona:    Karen,
		maxHistory: DefaultMaxHistory,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Respond asks the model for a reply to text. The exchange is added to the
// history only when the call succeeds.
func (r *Responder) Respond(ctx context.Context, text string) (Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := llm.Message{Role: llm.RoleUser, Content: text}
	msgs := make([]llm.Message, 0, len(r.history)+1)
	msgs = append(msgs, r.history...)
	msgs = append(msgs, user)

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: r.persona.SystemPrompt,
		Messages:     msgs,
		Tools:        r.tools,
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("dialog: complete: %w", err)
	}
	if resp == nil {
		return Reply{}, errors.New("dialog: provider returned no response")
	}

	reply := Reply{Text: strings.TrimSpace(resp.Content), Usage: resp.Usage, Truncated: resp.Truncated}
	for _, tc := range resp.ToolCalls {
		args := json.RawMessage(tc.Arguments)
		if !json.Valid(args) {
			args = nil
		}
		reply.Actions = append(reply.Actions, Action{ID: tc.ID, Name: tc.Name, Arguments: args})
	}

	// Tool calls are not executed, so only the spoken text is remembered.
	r.remember(user)
	if reply.Text != "" {
		r.remember(llm.Message{Role: llm.RoleAssistant, Content: reply.Text, Name: r.persona.Name})
	}
	return reply, nil
}

func (r *Responder) remember(m llm.Message) {
	if r.maxHistory == 0 {
		return
	}
	r.history = append(r.history, m)
	r.trim()
}

// trim enforces maxHistory. A window never opens on an assistant line.
func (r *Responder) trim() {
	if over := len(r.history) - r.maxHistory; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
	for len(r.history) > 0 && r.history[0].Role != llm.RoleUser {
		r.history = r.history[1:]
	}
}

// Persona returns the active persona.
func (r *Responder) Persona() Persona {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persona
}

// SetPersona swaps the persona and clears the history, which was spoken in
// the old voice.
func (r *Responder) SetPersona(p Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == r.persona {
		return
	}
	r.persona = p
	r.history = nil
}

// SetMaxHistory changes the history bound, trimming immediately.
func (r *Responder) SetMaxHistory(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxHistory = max(0, n)
	r.trim()
}

// History returns a copy of the remembered messages, oldest first.
func (r *Responder) History() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llm.Message(nil), r.history...)
}

// Reset forgets the conversation.
func (r *Responder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}
