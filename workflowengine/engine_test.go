package workflowengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orcaforge/fleet/cancellation"
	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/toolclient"
)

type recordingTransport struct {
	calls   []string
	fail    map[string]bool
	outputs map[string]map[string]any
}

func (t *recordingTransport) Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error) {
	t.calls = append(t.calls, tool)
	if t.fail[tool] {
		return nil, errTransport(tool)
	}
	if out, ok := t.outputs[tool]; ok {
		return out, nil
	}
	return map[string]any{}, nil
}

func errTransport(tool string) error {
	return &transportErr{tool: tool}
}

type transportErr struct{ tool string }

func (e *transportErr) Error() string { return "transport failure: " + e.tool }

func newTestEngine(transport *recordingTransport) *Engine {
	tc := toolclient.New(transport, toolclient.RetryPolicy{MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0})
	cat := catalog.New(nil)
	cat.Register("scanner", "local", []catalog.ToolInfo{{Name: "scan"}, {Name: "notify"}})
	return New(tc, cat, nil)
}

func TestRunExecutesLinearWorkflow(t *testing.T) {
	transport := &recordingTransport{
		outputs: map[string]map[string]any{
			"scan": {"open_ports": float64(3)},
		},
	}
	e := newTestEngine(transport)

	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "scan", Kind: config.NodeToolCall, Provider: "scanner", Tool: "scan"},
			{ID: "notify", Kind: config.NodeToolCall, Provider: "scanner", Tool: "notify",
				DependsOn: []string{"scan"},
				Params:    map[string]any{"ports": "{{nodes.scan.open_ports}}"}},
		},
	}

	result, err := e.Run(context.Background(), wf, "exec-1", nil, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, NodeCompleted, result.Nodes["scan"].Status)
	require.Equal(t, NodeCompleted, result.Nodes["notify"].Status)
	require.Equal(t, []string{"scan", "notify"}, transport.calls)
}

func TestRunPropagatesFailureAsSkipToDependents(t *testing.T) {
	transport := &recordingTransport{fail: map[string]bool{"scan": true}}
	e := newTestEngine(transport)

	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "scan", Kind: config.NodeToolCall, Provider: "scanner", Tool: "scan"},
			{ID: "notify", Kind: config.NodeToolCall, Provider: "scanner", Tool: "notify", DependsOn: []string{"scan"}},
			{ID: "unrelated", Kind: config.NodeToolCall, Provider: "scanner", Tool: "notify"},
		},
	}

	result, err := e.Run(context.Background(), wf, "exec-1", nil, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCompletedWithErrors, result.Status)
	require.Equal(t, NodeFailed, result.Nodes["scan"].Status)
	require.Equal(t, NodeSkipped, result.Nodes["notify"].Status)
	require.Equal(t, NodeCompleted, result.Nodes["unrelated"].Status)
}

func TestRunConditionalNodeGatesDownstream(t *testing.T) {
	transport := &recordingTransport{
		outputs: map[string]map[string]any{"scan": {"open_ports": float64(0)}},
	}
	e := newTestEngine(transport)

	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "scan", Kind: config.NodeToolCall, Provider: "scanner", Tool: "scan"},
			{ID: "gate", Kind: config.NodeConditional, DependsOn: []string{"scan"}, Predicate: "nodes.scan.open_ports > 0"},
			{ID: "notify", Kind: config.NodeToolCall, Provider: "scanner", Tool: "notify", DependsOn: []string{"gate"}},
		},
	}

	result, err := e.Run(context.Background(), wf, "exec-1", nil, 0)
	require.NoError(t, err)
	require.Equal(t, NodeSkipped, result.Nodes["gate"].Status)
	require.Equal(t, NodeSkipped, result.Nodes["notify"].Status)
	require.NotContains(t, transport.calls, "notify")
}

func TestRunFailsFastOnCyclicGraph(t *testing.T) {
	e := newTestEngine(&recordingTransport{})
	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "a", Kind: config.NodeToolCall, DependsOn: []string{"b"}},
			{ID: "b", Kind: config.NodeToolCall, DependsOn: []string{"a"}},
		},
	}
	_, err := e.Run(context.Background(), wf, "exec-1", nil, 0)
	require.Error(t, err)
}

func TestRunStopsOnPreCancelledToken(t *testing.T) {
	e := newTestEngine(&recordingTransport{})
	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "scan", Kind: config.NodeToolCall, Provider: "scanner", Tool: "scan"},
		},
	}
	cancel := cancellation.NewToken(context.Background())
	cancel.Cancel()

	result, err := e.Run(context.Background(), wf, "exec-1", cancel, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, result.Status)
}
