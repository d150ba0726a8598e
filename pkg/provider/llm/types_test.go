package llm_test

import (
	"testing"

	"github.com/MrWong99/waketurn/pkg/provider/llm"
)

func TestUserText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []llm.Message
		want string
	}{
		{name: "empty"},
		{name: "no user", msgs: []llm.Message{{Role: llm.RoleAssistant, Content: "hi"}}},
		{
			name: "last user wins",
			msgs: []llm.Message{
				{Role: llm.RoleUser, Content: "first"},
				{Role: llm.RoleAssistant, Content: "ok"},
				{Role: llm.RoleUser, Content: "second"},
				{Role: llm.RoleTool, Content: "result"},
			},
			want: "second",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := llm.UserText(tt.msgs); got != tt.want {
				t.Errorf("UserText = %q, want %q", got, tt.want)
			}
		})
	}
}
