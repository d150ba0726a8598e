// Package openai answers turns through the OpenAI chat completions API or
// any server that speaks the same protocol.
package openai

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/waketurn/pkg/provider/llm"
)

// DefaultMaxTokens bounds a reply when the request leaves MaxTokens unset.
// Replies are spoken aloud, so a few sentences is plenty.
const DefaultMaxTokens = 300

// finishLength is the finish reason reported when the token cap cut the
// reply short.
const finishLength = "length"

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider].
type Provider struct {
	client    oai.Client
	model     string
	maxTokens int
}

// Option configures a Provider.
type Option func(*settings)

type settings struct {
	requestOpts []option.RequestOption
	maxTokens   int
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.requestOpts = append(s.requestOpts, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.requestOpts = append(s.requestOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.requestOpts = append(s.requestOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithMaxTokens replaces [DefaultMaxTokens]. Zero or less leaves the server
// default in place.
func WithMaxTokens(n int) Option {
	return func(s *settings) { s.maxTokens = n }
}

// New returns a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	s := settings{maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(&s)
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, s.requestOpts...)
	return &Provider{
		client:    oai.NewClient(reqOpts...),
		model:     model,
		maxTokens: s.maxTokens,
	}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	return toResponse(resp.Choices[0], resp.Usage), nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		mp, err := messageParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: message %d: %w", i, err)
		}
		msgs = append(msgs, mp)
	}

	out := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		out.Temperature = param.NewOpt(req.Temperature)
	}
	if limit := cmp.Or(req.MaxTokens, p.maxTokens); limit > 0 {
		out.MaxCompletionTokens = param.NewOpt(int64(limit))
	}
	for _, td := range req.Tools {
		out.Tools = append(out.Tools, toolParam(td))
	}
	return out, nil
}

func toolParam(td llm.ToolDefinition) oai.ChatCompletionToolParam {
	fn := shared.FunctionDefinitionParam{
		Name:       td.Name,
		Parameters: shared.FunctionParameters(td.Parameters),
	}
	if td.Description != "" {
		fn.Description = param.NewOpt(td.Description)
	}
	return oai.ChatCompletionToolParam{Function: fn}
}

func toResponse(choice oai.ChatCompletionChoice, usage oai.CompletionUsage) *llm.CompletionResponse {
	out := &llm.CompletionResponse{
		Content:   choice.Message.Content,
		Truncated: choice.FinishReason == finishLength,
		Usage: llm.Usage{
			PromptTokens:     int(usage.PromptTokens),
			CompletionTokens: int(usage.CompletionTokens),
			TotalTokens:      int(usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func messageParam(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case llm.RoleAssistant:
		var a oai.ChatCompletionAssistantMessageParam
		if m.Content != "" {
			a.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			a.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			a.ToolCalls = append(a.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID:       tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &a}, nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown role %q", m.Role)
}
