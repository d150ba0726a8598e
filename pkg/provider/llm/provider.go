// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// Gemini, a local Ollama instance, ...) and exposes a single blocking
// completion call. The dialog layer builds the request from the persona and
// the rolling conversation history; the provider only translates it to the
// backend's wire format.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Tools is the set of function definitions offered to the model. Tool
	// calls in the response are surfaced to the caller as actions.
	Tools []ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int

	// SystemPrompt is injected before the conversation history.
	SystemPrompt string
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []ToolCall

	// Truncated reports that the backend stopped at the token cap. Backends
	// that do not say so leave it false.
	Truncated bool

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
