package workflowengine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveParamPassesThroughLiterals(t *testing.T) {
	v, err := resolveParam(42, nil)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestResolveParamResolvesAncestorOutput(t *testing.T) {
	results := map[string]NodeResult{
		"scan": {NodeID: "scan", Status: NodeCompleted, Output: map[string]any{"open_ports": float64(3)}},
	}
	v, err := resolveParam("{{nodes.scan.open_ports}}", results)
	require.NoError(t, err)
	require.Equal(t, float64(3), v)
}

func TestResolveParamFailsOnUnresolvedAncestor(t *testing.T) {
	_, err := resolveParam("{{nodes.missing.value}}", map[string]NodeResult{})
	require.Error(t, err)
}

func TestResolveParamFailsOnNotYetCompletedAncestor(t *testing.T) {
	results := map[string]NodeResult{
		"scan": {NodeID: "scan", Status: NodeSkipped},
	}
	_, err := resolveParam("{{nodes.scan.value}}", results)
	require.Error(t, err)
}

func TestResolveParamEnvWithDefault(t *testing.T) {
	v, err := resolveParam("{{env.WORKFLOWENGINE_TEST_MISSING:-fallback}}", nil)
	require.NoError(t, err)
	require.Equal(t, "fallback", v)
}

func TestResolveParamEnvPresent(t *testing.T) {
	require.NoError(t, os.Setenv("WORKFLOWENGINE_TEST_PRESENT", "value"))
	defer os.Unsetenv("WORKFLOWENGINE_TEST_PRESENT")

	v, err := resolveParam("{{env.WORKFLOWENGINE_TEST_PRESENT}}", nil)
	require.NoError(t, err)
	require.Equal(t, "value", v)
}

func TestEvaluatePredicateNumericComparison(t *testing.T) {
	results := map[string]NodeResult{
		"scan": {NodeID: "scan", Status: NodeCompleted, Output: map[string]any{"open_ports": float64(5)}},
	}
	ok, err := evaluatePredicate("nodes.scan.open_ports > 0", results)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evaluatePredicate("nodes.scan.open_ports > 10", results)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluatePredicateEquality(t *testing.T) {
	results := map[string]NodeResult{
		"check": {NodeID: "check", Status: NodeCompleted, Output: map[string]any{"status": "ok"}},
	}
	ok, err := evaluatePredicate(`nodes.check.status == "ok"`, results)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluatePredicateExists(t *testing.T) {
	results := map[string]NodeResult{
		"scan": {NodeID: "scan", Status: NodeCompleted, Output: map[string]any{"open_ports": float64(5)}},
	}
	ok, err := evaluatePredicate("exists nodes.scan.open_ports", results)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evaluatePredicate("exists nodes.scan.missing", results)
	require.NoError(t, err)
	require.False(t, ok)
}
