package llm

// Roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string
	Content string

	// Name labels the speaker. The dialog layer sets it to the persona name
	// on assistant lines.
	Name string

	// ToolCalls is set on assistant messages that asked for tools.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string
}

// ToolCall is a function invocation requested by the model. Arguments is
// the raw JSON the model produced and may be malformed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition offers a function to the model. Parameters is a JSON
// Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// UserText returns the content of the last user message in msgs, or "" when
// there is none.
func UserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
