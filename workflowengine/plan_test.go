package workflowengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orcaforge/fleet/config"
)

func TestPlanOrdersLinearChain(t *testing.T) {
	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "C", Kind: config.NodeToolCall, DependsOn: []string{"B"}},
			{ID: "A", Kind: config.NodeToolCall},
			{ID: "B", Kind: config.NodeToolCall, DependsOn: []string{"A"}},
		},
	}
	order, err := Plan(wf)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, order)
}

func TestPlanOrdersDiamond(t *testing.T) {
	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "A", Kind: config.NodeToolCall},
			{ID: "B", Kind: config.NodeToolCall, DependsOn: []string{"A"}},
			{ID: "C", Kind: config.NodeToolCall, DependsOn: []string{"A"}},
			{ID: "D", Kind: config.NodeToolCall, DependsOn: []string{"B", "C"}},
		},
	}
	order, err := Plan(wf)
	require.NoError(t, err)
	require.Len(t, order, 4)
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos["A"], pos["B"])
	require.Less(t, pos["A"], pos["C"])
	require.Less(t, pos["B"], pos["D"])
	require.Less(t, pos["C"], pos["D"])
}

func TestPlanDetectsCycle(t *testing.T) {
	wf := &config.WorkflowConfig{
		ID: "wf1",
		Nodes: []config.WorkflowNode{
			{ID: "A", Kind: config.NodeToolCall, DependsOn: []string{"B"}},
			{ID: "B", Kind: config.NodeToolCall, DependsOn: []string{"A"}},
		},
	}
	_, err := Plan(wf)
	require.Error(t, err)
}
