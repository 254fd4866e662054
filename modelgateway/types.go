// Package modelgateway implements the Model Gateway (spec §4.5): one
// uniform `Send` entry point over a registry of per-provider adapters,
// returning stop reason, content, any tool-use requests, token usage, and
// truthful cost.
package modelgateway

import "context"

// Role is a message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation sent to a model.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string // set on RoleTool messages: which tool-use request this answers
}

// ToolDeclaration is one tool the model may choose to call, in the
// provider-agnostic shape; adapters translate it into their own
// function-calling wire format.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ToolUseRequest is one tool invocation the model asked for.
type ToolUseRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// StopReason tags why generation ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Usage is token accounting for one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the Model Gateway's uniform result shape.
type Response struct {
	StopReason StopReason
	Content    string
	ToolUses   []ToolUseRequest
	Usage      Usage
	Cost       float64
}

// Binding names which provider + model a call targets.
type Binding struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Adapter is implemented once per model provider (OpenAI-shaped,
// Anthropic-shaped, Ollama-shaped, ...).
type Adapter interface {
	Name() string
	Send(ctx context.Context, binding Binding, messages []Message, tools []ToolDeclaration) (Response, error)
}
