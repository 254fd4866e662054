// Package reactagent implements the Agent ReAct Runtime (spec §4.8): the
// canonical reason→act→observe loop executing one agent definition against
// one task.
package reactagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orcaforge/fleet/cancellation"
	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/errs"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/modelgateway"
	"github.com/orcaforge/fleet/sessionstore"
	"github.com/orcaforge/fleet/toolclient"
)

// reasoningPreviewLimit bounds how much assistant text an event payload
// carries; the full text lives in the message list and the session store.
const reasoningPreviewLimit = 280

// toolResultPreviewLimit bounds the tool-result snapshot carried in a
// tool_result event.
const toolResultPreviewLimit = 500

// Status is the terminal outcome of one agent run.
type Status string

const (
	StatusCompleted          Status = "completed"
	StatusCompletedTruncated Status = "completed-truncated"
	StatusCompletedMaxIters  Status = "completed-max-iterations"
	StatusError              Status = "error"
	StatusCancelled          Status = "cancelled"
)

// Result is the outcome of one Run call.
type Result struct {
	Status     Status
	Answer     string
	Iterations int
}

// Runtime executes the ReAct loop against the shared Model Gateway, Tool
// Client, and Tool Catalog.
type Runtime struct {
	Gateway  *modelgateway.Gateway
	Tools    *toolclient.Client
	Catalog  *catalog.Catalog
	Bus      *eventbus.Bus
	Timeouts *config.ExecutionTimeouts
	Approval *ApprovalGate // nil disables human-approval gating entirely
}

// New creates a Runtime over the shared components.
func New(gateway *modelgateway.Gateway, tools *toolclient.Client, cat *catalog.Catalog, bus *eventbus.Bus, timeouts *config.ExecutionTimeouts) *Runtime {
	return &Runtime{Gateway: gateway, Tools: tools, Catalog: cat, Bus: bus, Timeouts: timeouts}
}

type visibleTool struct {
	provider   string
	toolName   string
	endpoint   string
	declaration modelgateway.ToolDeclaration
}

// Run executes agentCfg against task, publishing progress events tagged
// with executionID to the Bus and accumulating usage into sess.
// capabilities overrides agentCfg.Capabilities when non-nil — the Team
// Coordinator uses this to substitute a member's restricted tool set
// (spec §4.9) without mutating the shared agent definition.
func (rt *Runtime) Run(ctx context.Context, agentCfg *config.AgentConfig, executionID string, task string, extraContext []modelgateway.Message, capabilities []string, sess *sessionstore.Session, cancel *cancellation.Token) (Result, error) {
	if rt.Timeouts != nil {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, rt.Timeouts.PerExecution())
		defer stop()
	}

	if capabilities == nil {
		capabilities = agentCfg.Capabilities
	}
	tools, allowedProviders := rt.prepareToolSet(executionID, capabilities)

	messages := []modelgateway.Message{
		{Role: modelgateway.RoleSystem, Content: persona(agentCfg)},
		{Role: modelgateway.RoleUser, Content: task},
	}
	messages = append(messages, extraContext...)

	binding := modelgateway.Binding{
		Provider:    agentCfg.ModelProvider,
		Model:       agentCfg.Model,
		Temperature: agentCfg.Temperature,
		MaxTokens:   agentCfg.MaxResponseTokens,
	}

	var lastText string
	maxIterations := agentCfg.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		// Step 1: cancellation check.
		if cancel != nil && cancel.IsCancelled() {
			rt.publish(executionID, eventbus.Event{
				Tag: eventbus.TagAgentComplete, Status: string(StatusCancelled),
			})
			return Result{Status: StatusCancelled, Answer: lastText, Iterations: iteration - 1}, nil
		}

		// Step 2.
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagIterationStart, Iteration: iteration, MaxIteration: maxIterations, AgentID: agentCfg.ID})

		result, done, runErr := rt.runIteration(ctx, agentCfg, executionID, iteration, &messages, binding, tools, allowedProviders, cancel, sess, &lastText)
		if done {
			return result, runErr
		}
	}

	rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentComplete, Status: string(StatusCompletedMaxIters), FinalAnswer: lastText})
	return Result{Status: StatusCompletedMaxIters, Answer: lastText, Iterations: maxIterations}, nil
}

// runIteration executes steps 3-9 of one ReAct iteration under its own
// per-iteration deadline (distinct from the per-LLM-call deadline applied
// around the Gateway.Send call itself, and from the per-execution
// deadline Run applies around the whole loop). done reports whether Run
// should return result/runErr immediately rather than continue looping.
func (rt *Runtime) runIteration(ctx context.Context, agentCfg *config.AgentConfig, executionID string, iteration int, messages *[]modelgateway.Message, binding modelgateway.Binding, tools []visibleTool, allowedProviders map[string]bool, cancel *cancellation.Token, sess *sessionstore.Session, lastText *string) (Result, bool, error) {
	iterCtx := ctx
	if rt.Timeouts != nil {
		var stop context.CancelFunc
		iterCtx, stop = context.WithTimeout(ctx, rt.Timeouts.PerIteration())
		defer stop()
	}

	// Step 3.
	toolDecls := make([]modelgateway.ToolDeclaration, 0, len(tools))
	for _, t := range tools {
		toolDecls = append(toolDecls, t.declaration)
	}
	var llmDeadline time.Duration
	if rt.Timeouts != nil {
		llmDeadline = rt.Timeouts.PerLLMCall()
	}
	resp, err := rt.Gateway.Send(iterCtx, binding, *messages, toolDecls, llmDeadline, cancel)
	if err != nil {
		if errs.KindOf(err) == errs.KindCancelled {
			rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentComplete, Status: string(StatusCancelled)})
			return Result{Status: StatusCancelled, Answer: *lastText, Iterations: iteration}, true, nil
		}
		// A per-LLM-call or per-iteration deadline expiring surfaces here
		// too (errs.KindTimeout), carried through in err for the caller to
		// classify; the terminal status is "error" either way.
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentComplete, Status: string(StatusError), Message: err.Error()})
		return Result{Status: StatusError, Answer: *lastText, Iterations: iteration}, true, err
	}

	// Step 4.
	if sess != nil {
		sess.AddUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Cost)
	}
	rt.publish(executionID, eventbus.Event{
		Tag: eventbus.TagCumulativeTokens, InputTokens: resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens, Cost: resp.Cost, Model: agentCfg.Model,
	})

	if resp.Content != "" {
		*lastText = resp.Content
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentReasoning, ReasoningText: truncate(resp.Content, reasoningPreviewLimit)})
	}

	switch resp.StopReason {
	case modelgateway.StopEndTurn:
		// Step 5.
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentAnswer, Answer: resp.Content})
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentComplete, Status: string(StatusCompleted), FinalAnswer: resp.Content})
		return Result{Status: StatusCompleted, Answer: resp.Content, Iterations: iteration}, true, nil

	case modelgateway.StopToolUse:
		// Step 6.
		*messages = append(*messages, modelgateway.Message{Role: modelgateway.RoleAssistant, Content: resp.Content})
		var usedTools []string
		for _, use := range resp.ToolUses {
			obs, cancelled := rt.dispatchTool(iterCtx, executionID, use, tools, allowedProviders, agentCfg.RequireApproval, cancel)
			*messages = append(*messages, obs)
			usedTools = append(usedTools, use.Name)
			if cancelled {
				rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentComplete, Status: string(StatusCancelled)})
				return Result{Status: StatusCancelled, Answer: *lastText, Iterations: iteration}, true, nil
			}
		}
		// Step 9.
		rt.publish(executionID, eventbus.Event{
			Tag: eventbus.TagAgentIteration, Iteration: iteration, Model: agentCfg.Model,
			UsedTools: usedTools, ReasoningText: truncate(resp.Content, reasoningPreviewLimit),
		})
		return Result{}, false, nil

	case modelgateway.StopMaxTokens:
		// Step 7.
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentComplete, Status: string(StatusCompletedTruncated), FinalAnswer: resp.Content})
		return Result{Status: StatusCompletedTruncated, Answer: resp.Content, Iterations: iteration}, true, nil

	default: // modelgateway.StopError
		// Step 8.
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagAgentComplete, Status: string(StatusError), Message: "model reported a terminal error"})
		return Result{Status: StatusError, Answer: *lastText, Iterations: iteration}, true, errs.New("reactagent", "run", errs.KindProviderReportedErr, "model stop_reason=error", nil)
	}
}

// dispatchTool runs one tool-use request (spec §4.8 step 6a-e) and returns
// the observation message to append plus whether cancellation aborted the
// call (edge-case policy: cancellation mid-tool-call terminates the loop).
func (rt *Runtime) dispatchTool(ctx context.Context, executionID string, use modelgateway.ToolUseRequest, tools []visibleTool, allowed map[string]bool, requireApproval bool, cancel *cancellation.Token) (modelgateway.Message, bool) {
	rt.publish(executionID, eventbus.Event{Tag: eventbus.TagToolExecution, ToolName: use.Name, ToolInput: use.Arguments})

	provider, toolName, ok := splitQualifiedName(use.Name)
	if !ok || !allowed[provider] {
		rt.publish(executionID, eventbus.Event{
			Tag: eventbus.TagToolResult, ToolName: use.Name, ToolSuccess: false,
			ToolErrorKind: string(errs.KindPolicyViolation),
		})
		return modelgateway.Message{Role: modelgateway.RoleTool, ToolCallID: use.ID,
			Content: fmt.Sprintf("error: tool %q is not in this agent's declared capability set", use.Name)}, false
	}

	var endpoint string
	for _, t := range tools {
		if t.provider == provider && t.toolName == toolName {
			endpoint = t.endpoint
			break
		}
	}

	if rt.Approval != nil && requireApproval {
		rt.publish(executionID, eventbus.Event{Tag: eventbus.TagToolExecution, ToolName: use.Name, ToolInput: use.Arguments, Status: "awaiting_approval"})
		approved := rt.Approval.await(ctx, executionID, use.ID)
		if !approved {
			rt.publish(executionID, eventbus.Event{
				Tag: eventbus.TagToolResult, ToolName: use.Name, ToolSuccess: false,
				ToolErrorKind: string(errs.KindPolicyViolation),
			})
			return modelgateway.Message{Role: modelgateway.RoleTool, ToolCallID: use.ID,
				Content: fmt.Sprintf("tool %q was not approved for execution", use.Name)}, false
		}
	}

	deadline := rt.Timeouts.PerToolCall()
	result, err := rt.Tools.Call(ctx, endpoint, toolName, use.Arguments, deadline, cancel)
	if err != nil {
		kind := errs.KindOf(err)
		rt.publish(executionID, eventbus.Event{
			Tag: eventbus.TagToolResult, ToolName: use.Name, ToolSuccess: false, ToolErrorKind: string(kind),
		})
		obs := modelgateway.Message{Role: modelgateway.RoleTool, ToolCallID: use.ID,
			Content: fmt.Sprintf("error (%s): %v", kind, err)}
		return obs, kind == errs.KindCancelled
	}

	snapshot := fmt.Sprintf("%v", result)
	rt.publish(executionID, eventbus.Event{
		Tag: eventbus.TagToolResult, ToolName: use.Name, ToolSuccess: true, ToolResult: truncate(snapshot, toolResultPreviewLimit),
	})
	return modelgateway.Message{Role: modelgateway.RoleTool, ToolCallID: use.ID, Content: snapshot}, false
}

// prepareToolSet builds the model-visible tool declarations and a lookup
// table back to provider/endpoint (spec §4.8's "Preparation").
func (rt *Runtime) prepareToolSet(executionID string, capabilities []string) ([]visibleTool, map[string]bool) {
	var tools []visibleTool
	allowed := make(map[string]bool, len(capabilities))
	for _, provider := range capabilities {
		allowed[provider] = true
		entry, err := rt.Catalog.Resolve(provider)
		if err != nil {
			rt.publish(executionID, eventbus.Event{
				Tag: eventbus.TagStatus, Message: "capability provider unavailable, tool set reduced: " + provider,
			})
			continue
		}
		for _, t := range entry.Tools {
			qualified := provider + "__" + t.Name
			tools = append(tools, visibleTool{
				provider: provider,
				toolName: t.Name,
				endpoint: entry.Endpoint,
				declaration: modelgateway.ToolDeclaration{
					Name:        qualified,
					Description: "[" + provider + "] " + t.Description,
					Parameters:  toJSONSchema(t.Parameters),
				},
			})
		}
	}
	return tools, allowed
}

func persona(cfg *config.AgentConfig) string {
	var b strings.Builder
	b.WriteString(cfg.SystemPrompt)
	if cfg.Role != "" {
		b.WriteString("\n\nRole: ")
		b.WriteString(cfg.Role)
	}
	if cfg.BehaviorGuidance != "" {
		b.WriteString("\n\n")
		b.WriteString(cfg.BehaviorGuidance)
	}
	return b.String()
}

func splitQualifiedName(name string) (provider, tool string, ok bool) {
	parts := strings.SplitN(name, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func toJSONSchema(params []catalog.ToolParameter) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Schema != nil {
			prop = p.Schema
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

func (rt *Runtime) publish(executionID string, ev eventbus.Event) {
	if rt.Bus == nil {
		return
	}
	ev.ExecutionID = executionID
	rt.Bus.Publish(ev)
}
