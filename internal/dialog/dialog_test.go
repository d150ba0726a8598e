package dialog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/waketurn/pkg/provider/llm"
	llmmock "github.com/MrWong99/waketurn/pkg/provider/llm/mock"
)

func TestRespond_SendsPersonaAndHistory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Uhh, noon.  "}}
	r, err := New(p, WithMaxTokens(60), WithTemperature(0.4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := r.Respond(ctx, "what time is it"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	reply, err := r.Respond(ctx, "are you sure")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "Uhh, noon." {
		t.Errorf("text = %q", reply.Text)
	}

	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	req := calls[1].Req
	if req.SystemPrompt != Karen.SystemPrompt {
		t.Errorf("system prompt not the default persona")
	}
	if req.MaxTokens != 60 || req.Temperature != 0.4 {
		t.Errorf("max tokens/temperature = %d/%v", req.MaxTokens, req.Temperature)
	}
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "what time is it"},
		{Role: llm.RoleAssistant, Content: "Uhh, noon.", Name: "Karen"},
		{Role: llm.RoleUser, Content: "are you sure"},
	}
	if len(req.Messages) != len(want) {
		t.Fatalf("messages = %+v", req.Messages)
	}
	for i := range want {
		if req.Messages[i].Role != want[i].Role || req.Messages[i].Content != want[i].Content || req.Messages[i].Name != want[i].Name {
			t.Errorf("message %d = %+v, want %+v", i, req.Messages[i], want[i])
		}
	}
}

func TestRespond_HistoryBounded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		maxHistory int
		turns      int
		wantLen    int
	}{
		{name: "disabled", maxHistory: 0, turns: 3, wantLen: 0},
		{name: "even bound", maxHistory: 4, turns: 5, wantLen: 4},
		{name: "odd bound drops leading assistant", maxHistory: 3, turns: 5, wantLen: 2},
		{name: "under bound", maxHistory: 10, turns: 2, wantLen: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "mmkay"}}
			r, _ := New(p, WithMaxHistory(tt.maxHistory))
			for i := range tt.turns {
				if _, err := r.Respond(context.Background(), fmt.Sprintf("q%d", i)); err != nil {
					t.Fatalf("Respond: %v", err)
				}
			}
			h := r.History()
			if len(h) != tt.wantLen {
				t.Fatalf("history = %d messages, want %d", len(h), tt.wantLen)
			}
			if len(h) > 0 && h[0].Role != llm.RoleUser {
				t.Errorf("history starts with %s", h[0].Role)
			}
			if len(h) > 0 && h[len(h)-1].Content != "mmkay" {
				t.Errorf("newest message = %q", h[len(h)-1].Content)
			}
		})
	}
}

func TestRespond_ToolCallsBecomeActions(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "",
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "set_timer", Arguments: `{"minutes":5}`},
			{ID: "c2", Name: "beep", Arguments: `not json`},
		},
	}}
	tool := llm.ToolDefinition{Name: "set_timer", Description: "Start a kitchen timer"}
	r, _ := New(p, WithTools(tool))

	reply, err := r.Respond(context.Background(), "timer five minutes")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(reply.Actions) != 2 {
		t.Fatalf("actions = %+v", reply.Actions)
	}
	if reply.Actions[0].Name != "set_timer" || string(reply.Actions[0].Arguments) != `{"minutes":5}` {
		t.Errorf("action 0 = %+v", reply.Actions[0])
	}
	if reply.Actions[1].Arguments != nil {
		t.Errorf("invalid JSON arguments kept: %s", reply.Actions[1].Arguments)
	}
	if got := p.Calls()[0].Req.Tools; len(got) != 1 || got[0].Name != "set_timer" {
		t.Errorf("tools sent = %+v", got)
	}
	// No spoken text: only the user line is remembered.
	if h := r.History(); len(h) != 1 || h[0].Role != llm.RoleUser {
		t.Errorf("history = %+v", h)
	}
}

func TestRespond_ErrorLeavesHistoryUntouched(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	r, _ := New(p)
	if _, err := r.Respond(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if h := r.History(); len(h) != 0 {
		t.Errorf("history = %+v, want empty", h)
	}

	p2 := &llmmock.Provider{}
	r2, _ := New(p2)
	if _, err := r2.Respond(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for nil response")
	}
}

func TestSetPersona_ClearsHistory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	r, _ := New(p)
	_, _ = r.Respond(context.Background(), "hi")

	r.SetPersona(Karen)
	if len(r.History()) != 2 {
		t.Error("same persona should keep history")
	}

	robot := Persona{Name: "Robo", SystemPrompt: "Beep."}
	r.SetPersona(robot)
	if len(r.History()) != 0 {
		t.Error("new persona should clear history")
	}
	_, _ = r.Respond(context.Background(), "hi")
	if got := p.Calls()[1].Req.SystemPrompt; got != "Beep." {
		t.Errorf("system prompt = %q", got)
	}
	if r.Persona().Name != "Robo" {
		t.Errorf("persona = %+v", r.Persona())
	}
}

func TestSetMaxHistory_Trims(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	r, _ := New(p)
	for range 3 {
		_, _ = r.Respond(context.Background(), "x")
	}
	r.SetMaxHistory(2)
	if len(r.History()) != 2 {
		t.Errorf("history = %d, want 2", len(r.History()))
	}
	r.Reset()
	if len(r.History()) != 0 {
		t.Error("Reset did not clear history")
	}
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Fatal("expected error")
	}
}
