// Package config defines the on-disk configuration schema and its
// validation/defaulting, mirroring the teacher's per-struct
// Validate()/SetDefaults() convention: every nested config type knows how
// to fill in its own defaults and check its own invariants.
package config

import (
	"fmt"
	"time"
)

// ============================================================================
// AGENT DEFINITION (spec §3)
// ============================================================================

// AgentConfig is an agent definition, immutable once loaded.
type AgentConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Version string   `yaml:"version"`

	// Persona
	Role             string   `yaml:"role"`
	SystemPrompt     string   `yaml:"system_prompt"`
	BehaviorGuidance string   `yaml:"behavior_guidance"`
	ExpertiseTags    []string `yaml:"expertise_tags,omitempty"`

	// Declared capability set: tool-provider names this agent may call.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Iteration policy
	MaxIterations    int  `yaml:"max_iterations"`
	AllowLooping     bool `yaml:"allow_looping"`
	RequireApproval  bool `yaml:"require_approval"`

	// Model binding
	ModelProvider     string  `yaml:"model_provider"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxResponseTokens int     `yaml:"max_response_tokens"`

	// OutputSchema is an optional JSON Schema carried on the definition;
	// nothing in the engine validates the final answer against it.
	// [SUPPLEMENT] — see SPEC_FULL.md §3.
	OutputSchema map[string]any `yaml:"output_schema,omitempty"`
}

// SetDefaults fills in zero-valued fields with engine defaults.
func (a *AgentConfig) SetDefaults() {
	if a.MaxIterations <= 0 {
		a.MaxIterations = 10
	}
	if a.Temperature == 0 {
		a.Temperature = 0.7
	}
	if a.MaxResponseTokens == 0 {
		a.MaxResponseTokens = 4096
	}
}

// Validate enforces the invariants spec §3 names for an agent definition.
func (a *AgentConfig) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent: id is required")
	}
	if a.MaxIterations < 1 {
		return fmt.Errorf("agent %q: max_iterations must be >= 1", a.ID)
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("agent %q: temperature must be between 0 and 2", a.ID)
	}
	// Declared tool-provider names are resolved lazily at dispatch time
	// (spec §3): a missing provider narrows the visible tool set, it does
	// not fail load, so no catalog lookup happens here.
	return nil
}

// ============================================================================
// TEAM DEFINITION (spec §3)
// ============================================================================

// CoordinationMode selects how a team composes its members' runs.
type CoordinationMode string

const (
	ModeSequential    CoordinationMode = "sequential"
	ModeParallel      CoordinationMode = "parallel"
	ModeCollaborative CoordinationMode = "collaborative"
)

// TeamMember names one agent's role within a team.
type TeamMember struct {
	AgentID              string   `yaml:"agent_id"`
	Role                 string   `yaml:"role"`
	Responsibilities     []string `yaml:"responsibilities,omitempty"`
	CapabilityRestriction []string `yaml:"capability_restriction,omitempty"`
}

// TeamConfig is a team definition.
type TeamConfig struct {
	ID                 string           `yaml:"id"`
	Name               string           `yaml:"name"`
	CapabilityPool     []string         `yaml:"capability_pool,omitempty"`
	Members            []TeamMember     `yaml:"members"`
	Mode               CoordinationMode `yaml:"mode"`
	ShareContext       bool             `yaml:"share_context"`
	StrictMode         bool             `yaml:"strict_mode"`

	// MaxConcurrentAgents bounds parallel-mode concurrency for this team.
	// Zero means "use the engine-wide default". [SUPPLEMENT] per §9 open
	// question, resolved as per-team if present.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents,omitempty"`
}

// SetDefaults fills in zero-valued fields.
func (t *TeamConfig) SetDefaults() {
	if t.Mode == "" {
		t.Mode = ModeSequential
	}
}

// Validate enforces the invariants spec §3 names for a team definition.
func (t *TeamConfig) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("team: id is required")
	}
	if len(t.Members) == 0 {
		return fmt.Errorf("team %q: members cannot be empty", t.ID)
	}
	switch t.Mode {
	case ModeSequential, ModeParallel, ModeCollaborative:
	default:
		return fmt.Errorf("team %q: unknown coordination mode %q", t.ID, t.Mode)
	}

	pool := make(map[string]bool, len(t.CapabilityPool))
	for _, name := range t.CapabilityPool {
		pool[name] = true
	}
	for _, m := range t.Members {
		if m.AgentID == "" {
			return fmt.Errorf("team %q: member with empty agent_id", t.ID)
		}
		for _, restriction := range m.CapabilityRestriction {
			if !pool[restriction] {
				return fmt.Errorf("team %q: member %q capability restriction %q is not a subset of the team pool",
					t.ID, m.AgentID, restriction)
			}
		}
	}
	return nil
}

// ============================================================================
// WORKFLOW DEFINITION (spec §3)
// ============================================================================

// NodeKind distinguishes the two node shapes a workflow graph may contain.
type NodeKind string

const (
	NodeToolCall   NodeKind = "tool_call"
	NodeConditional NodeKind = "conditional"
)

// WorkflowNode is either a tool-call node or a conditional node, selected
// by Kind. Unused fields for the other kind are left zero.
type WorkflowNode struct {
	ID   string   `yaml:"id"`
	Kind NodeKind `yaml:"kind"`

	// DependsOn names ancestor node ids this node's edges point from.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Tool-call node fields.
	Provider string         `yaml:"provider,omitempty"`
	Tool     string         `yaml:"tool,omitempty"`
	Params   map[string]any `yaml:"params,omitempty"`

	// Conditional node fields: Predicate references ancestor outputs, e.g.
	// "nodes.A.open_ports > 0". Parsed by evaluatePredicate in
	// workflowengine/expr.go.
	Predicate string `yaml:"predicate,omitempty"`
}

// WorkflowConfig is a workflow definition: identity plus a node graph.
type WorkflowConfig struct {
	ID    string         `yaml:"id"`
	Name  string         `yaml:"name"`
	Nodes []WorkflowNode `yaml:"nodes"`
}

// Validate performs structural checks that don't require graph analysis
// (acyclicity is checked by workflowengine.Plan, which needs the full
// adjacency information this type alone doesn't enforce).
func (w *WorkflowConfig) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	seen := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return fmt.Errorf("workflow %q: node with empty id", w.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("workflow %q: duplicate node id %q", w.ID, n.ID)
		}
		seen[n.ID] = true
		switch n.Kind {
		case NodeToolCall, NodeConditional:
		default:
			return fmt.Errorf("workflow %q: node %q has unknown kind %q", w.ID, n.ID, n.Kind)
		}
	}
	for _, n := range w.Nodes {
		for _, dep := range n.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("workflow %q: node %q depends on unknown node %q", w.ID, n.ID, dep)
			}
		}
	}
	return nil
}

// ============================================================================
// PROVIDER / TRIGGER DECLARATIONS (spec §3, §6)
// ============================================================================

// TriggerType tags a trigger provider for UI grouping (spec §3).
type TriggerType string

const (
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerManual   TriggerType = "manual"
)

// AutoInstallConfig is the auto-install section of the configuration (spec
// §4.3's "auto-install manifest", an external collaborator per §6).
// Providers, Triggers and PollIntervalSeconds are parsed but no component
// reads them: ReconcileOnBoot starts only the providers already recorded in
// the installation manifest at ManifestPath and installs none.
type AutoInstallConfig struct {
	Providers           []string `yaml:"providers,omitempty"`
	Triggers            []string `yaml:"triggers,omitempty"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds,omitempty"`

	// ManifestPath is where the Provider Lifecycle Manager persists which
	// providers are installed/enabled, so ReconcileOnBoot can bring them
	// back up after a restart without re-running install.
	ManifestPath string `yaml:"manifest_path,omitempty"`
}

func (a *AutoInstallConfig) SetDefaults() {
	if a.PollIntervalSeconds <= 0 {
		a.PollIntervalSeconds = 30
	}
	if a.ManifestPath == "" {
		a.ManifestPath = "fleet-providers.json"
	}
}

// ExecutionTimeouts holds the deadlines spec §5 requires at each layer, in
// seconds (on-disk units; the PerLLMCall, PerToolCall, PerIteration and
// PerExecution methods convert them to time.Duration).
type ExecutionTimeouts struct {
	PerLLMCallSeconds   int `yaml:"per_llm_call"`
	PerToolCallSeconds  int `yaml:"per_tool_call"`
	PerIterationSeconds int `yaml:"per_iteration"`
	PerExecutionSeconds int `yaml:"per_execution"`
}

func (e *ExecutionTimeouts) SetDefaults() {
	if e.PerLLMCallSeconds <= 0 {
		e.PerLLMCallSeconds = 60
	}
	if e.PerToolCallSeconds <= 0 {
		e.PerToolCallSeconds = 30
	}
	if e.PerIterationSeconds <= 0 {
		e.PerIterationSeconds = 120
	}
	if e.PerExecutionSeconds <= 0 {
		e.PerExecutionSeconds = 900
	}
}

func (e *ExecutionTimeouts) PerLLMCall() time.Duration {
	return time.Duration(e.PerLLMCallSeconds) * time.Second
}
func (e *ExecutionTimeouts) PerToolCall() time.Duration {
	return time.Duration(e.PerToolCallSeconds) * time.Second
}
func (e *ExecutionTimeouts) PerIteration() time.Duration {
	return time.Duration(e.PerIterationSeconds) * time.Second
}
func (e *ExecutionTimeouts) PerExecution() time.Duration {
	return time.Duration(e.PerExecutionSeconds) * time.Second
}

// ModelPrice is a per-model $/1K-token price pair backing the Model
// Gateway's cost truthfulness (spec §4.5; SPEC_FULL.md §4.5 supplement).
type ModelPrice struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// TeamDefaults holds engine-wide fallbacks for team execution.
type TeamDefaults struct {
	DefaultMaxConcurrentAgents int `yaml:"default_max_concurrent_agents"`
}

func (t *TeamDefaults) SetDefaults() {
	if t.DefaultMaxConcurrentAgents <= 0 {
		t.DefaultMaxConcurrentAgents = 8
	}
}
