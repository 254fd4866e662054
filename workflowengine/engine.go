// Package workflowengine implements the Workflow Engine (spec §4.10): a
// DAG of tool-call and conditional nodes, planned with a topological sort
// and executed node by node with parameter templating, predicate-driven
// skip propagation, and cancellation.
package workflowengine

import (
	"context"
	"time"

	"github.com/orcaforge/fleet/cancellation"
	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/errs"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/toolclient"
)

// NodeStatus is the terminal outcome of one node within a workflow run.
type NodeStatus string

const (
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeResult is one node's recorded outcome.
type NodeResult struct {
	NodeID string
	Status NodeStatus
	Output map[string]any
	Err    error
}

// Status is the terminal outcome of a workflow run.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed-with-errors"
	StatusCancelled           Status = "cancelled"
)

// Result is the outcome of one Engine.Run call.
type Result struct {
	Status Status
	Nodes  map[string]NodeResult
	Order  []string
}

// Engine runs WorkflowConfigs against the shared Tool Catalog and Tool
// Client.
type Engine struct {
	Tools   *toolclient.Client
	Catalog *catalog.Catalog
	Bus     *eventbus.Bus
}

// New creates an Engine.
func New(tools *toolclient.Client, cat *catalog.Catalog, bus *eventbus.Bus) *Engine {
	return &Engine{Tools: tools, Catalog: cat, Bus: bus}
}

// Run plans wf's node graph and executes it in topological order.
func (e *Engine) Run(ctx context.Context, wf *config.WorkflowConfig, executionID string, cancel *cancellation.Token, perNodeTimeout time.Duration) (Result, error) {
	order, err := Plan(wf)
	if err != nil {
		return Result{}, err
	}

	nodeByID := make(map[string]config.WorkflowNode, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeByID[n.ID] = n
	}

	results := make(map[string]NodeResult, len(wf.Nodes))
	anyError := false

	for _, id := range order {
		if cancel != nil && cancel.IsCancelled() {
			return Result{Status: StatusCancelled, Nodes: results, Order: order}, nil
		}

		node := nodeByID[id]

		if skipped, reason := e.shouldSkip(node, results); skipped {
			results[id] = NodeResult{NodeID: id, Status: NodeSkipped}
			e.publishToolResult(executionID, id, "", true, "", nil, reason)
			continue
		}

		switch node.Kind {
		case config.NodeConditional:
			ok, err := evaluatePredicate(node.Predicate, results)
			if err != nil {
				results[id] = NodeResult{NodeID: id, Status: NodeFailed, Err: err}
				anyError = true
				continue
			}
			if !ok {
				results[id] = NodeResult{NodeID: id, Status: NodeSkipped}
				continue
			}
			results[id] = NodeResult{NodeID: id, Status: NodeCompleted, Output: map[string]any{"matched": true}}

		case config.NodeToolCall:
			result := e.runToolCall(ctx, executionID, node, results, cancel, perNodeTimeout)
			results[id] = result
			if result.Status == NodeFailed {
				anyError = true
			}

		default:
			err := errs.New("workflowengine", "run", errs.KindInvalidWorkflow,
				"node "+id+" has unrecognized kind "+string(node.Kind), nil)
			results[id] = NodeResult{NodeID: id, Status: NodeFailed, Err: err}
			anyError = true
		}
	}

	if cancel != nil && cancel.IsCancelled() {
		return Result{Status: StatusCancelled, Nodes: results, Order: order}, nil
	}
	if anyError {
		return Result{Status: StatusCompletedWithErrors, Nodes: results, Order: order}, nil
	}
	return Result{Status: StatusCompleted, Nodes: results, Order: order}, nil
}

// shouldSkip propagates a skip/failure to a node whenever any of its
// direct dependencies did not complete. A node with no dependency on a
// failed or skipped ancestor runs normally, so unrelated branches
// continue even after one branch fails.
func (e *Engine) shouldSkip(node config.WorkflowNode, results map[string]NodeResult) (bool, string) {
	for _, dep := range node.DependsOn {
		r, ok := results[dep]
		if !ok {
			continue
		}
		if r.Status == NodeSkipped {
			return true, "ancestor node " + dep + " was skipped"
		}
		if r.Status == NodeFailed {
			return true, "ancestor node " + dep + " failed"
		}
	}
	return false, ""
}

func (e *Engine) runToolCall(ctx context.Context, executionID string, node config.WorkflowNode, results map[string]NodeResult, cancel *cancellation.Token, perNodeTimeout time.Duration) NodeResult {
	entry, err := e.Catalog.Resolve(node.Provider)
	if err != nil {
		e.publishToolResult(executionID, node.ID, node.Tool, false, string(errs.KindOf(err)), nil, "")
		return NodeResult{NodeID: node.ID, Status: NodeFailed, Err: err}
	}

	args := make(map[string]any, len(node.Params))
	for k, v := range node.Params {
		resolved, err := resolveParam(v, results)
		if err != nil {
			e.publishToolResult(executionID, node.ID, node.Tool, false, string(errs.KindOf(err)), nil, "")
			return NodeResult{NodeID: node.ID, Status: NodeFailed, Err: err}
		}
		args[k] = resolved
	}

	e.publish(eventbus.Event{
		ExecutionID: executionID,
		Tag:         eventbus.TagToolExecution,
		ToolName:    node.Provider + "__" + node.Tool,
		ToolInput:   args,
	})

	output, err := e.Tools.Call(ctx, entry.Endpoint, node.Tool, args, perNodeTimeout, cancel)
	if err != nil {
		e.publishToolResult(executionID, node.ID, node.Tool, false, string(errs.KindOf(err)), nil, "")
		return NodeResult{NodeID: node.ID, Status: NodeFailed, Err: err}
	}

	e.publishToolResult(executionID, node.ID, node.Tool, true, "", output, "")
	return NodeResult{NodeID: node.ID, Status: NodeCompleted, Output: output}
}

func (e *Engine) publishToolResult(executionID, nodeID, tool string, success bool, errorKind string, output map[string]any, message string) {
	e.publish(eventbus.Event{
		ExecutionID:   executionID,
		Tag:           eventbus.TagToolResult,
		ToolName:      nodeID + "/" + tool,
		ToolSuccess:   success,
		ToolErrorKind: errorKind,
		ToolResult:    output,
		Message:       message,
	})
}

func (e *Engine) publish(evt eventbus.Event) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(evt)
}
