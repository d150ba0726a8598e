// Package stub provides an offline LLM provider that echoes the last user
// message back in a fixed sentence.
package stub

import (
	"context"
	"fmt"

	"github.com/MrWong99/waketurn/pkg/provider/llm"
)

// ReplyFormat is the sentence template; %s receives the user's words.
const ReplyFormat = "You said: %s. Also, it's a lovely day to optimize latency."

var _ llm.Provider = Provider{}

// Provider answers every request with [ReplyFormat].
type Provider struct{}

// Complete implements llm.Provider.
func (Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: fmt.Sprintf(ReplyFormat, llm.UserText(req.Messages))}, nil
}
