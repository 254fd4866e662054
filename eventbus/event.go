// Package eventbus implements the per-execution typed progress event
// stream (spec §4.6): a bounded, ordered channel per execution-id, with
// thin WebSocket and SSE adapters demonstrating both fan-out shapes.
package eventbus

import "time"

// Tag identifies the shape of an Event's payload.
type Tag string

const (
	TagExecutionStarted Tag = "execution_started"
	TagStatus           Tag = "status"
	TagAgentStart       Tag = "agent_start"
	TagIterationStart   Tag = "iteration_start"
	TagAgentReasoning   Tag = "agent_reasoning"
	TagToolExecution    Tag = "tool_execution"
	TagToolResult       Tag = "tool_result"
	TagAgentIteration   Tag = "agent_iteration"
	TagAgentAnswer      Tag = "agent_answer"
	TagAgentComplete    Tag = "agent_complete"
	TagComplete         Tag = "complete"
	TagError            Tag = "error"
	TagCumulativeTokens Tag = "cumulative_tokens"
)

// Event is a single typed progress record. Only the fields relevant to Tag
// are populated; the rest are left at zero value. Kept as one flat struct
// (rather than a tagged union of concrete types) because it is the only
// shape that crosses the WebSocket/SSE boundary as JSON, and a flat struct
// serializes predictably without custom (Un)MarshalJSON.
type Event struct {
	Tag         Tag       `json:"tag"`
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`

	Kind string `json:"kind,omitempty"` // execution kind: agent | team | workflow | trigger-invocation

	Message    string `json:"message,omitempty"`
	StatusKind string `json:"status_kind,omitempty"` // iteration-start | agent-reasoning | tool-execution | tool-result | agent-answer | agent-complete

	AgentID  string  `json:"agent_id,omitempty"`
	Role     string  `json:"role,omitempty"`
	Progress float64 `json:"progress,omitempty"`

	Iteration    int `json:"iteration,omitempty"`
	MaxIteration int `json:"max_iteration,omitempty"`

	ReasoningText string `json:"reasoning_text,omitempty"`

	ToolName     string `json:"tool_name,omitempty"`
	ToolInput    any    `json:"tool_input,omitempty"`
	ToolResult   any    `json:"tool_result,omitempty"`
	ToolSuccess  bool   `json:"tool_success,omitempty"`
	ToolErrorKind string `json:"tool_error_kind,omitempty"`

	Model         string   `json:"model,omitempty"`
	UsedTools     []string `json:"used_tools,omitempty"`
	StopReason    string   `json:"stop_reason,omitempty"`
	InputTokens   int      `json:"input_tokens,omitempty"`
	OutputTokens  int      `json:"output_tokens,omitempty"`
	Cost          float64  `json:"cost,omitempty"`

	Answer string `json:"answer,omitempty"`
	Status string `json:"status,omitempty"`

	FinalAnswer string `json:"final_answer,omitempty"`

	Result any `json:"result,omitempty"`
}
