package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/modelgateway"
)

type echoAdapter struct{}

func (echoAdapter) Name() string { return "mock" }
func (echoAdapter) Send(ctx context.Context, binding modelgateway.Binding, messages []modelgateway.Message, tools []modelgateway.ToolDeclaration) (modelgateway.Response, error) {
	return modelgateway.Response{StopReason: modelgateway.StopEndTurn, Content: "done: " + binding.Model}, nil
}

type noopTransport struct{}

func (noopTransport) Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := &config.Config{
		Agents: map[string]*config.AgentConfig{
			"researcher": {ID: "researcher", ModelProvider: "mock", Model: "mock-model"},
		},
		Teams: map[string]*config.TeamConfig{
			"squad": {
				ID:   "squad",
				Mode: config.ModeSequential,
				Members: []config.TeamMember{
					{AgentID: "researcher", Role: "lead"},
				},
			},
		},
		Workflows: map[string]*config.WorkflowConfig{
			"scan-and-notify": {
				ID: "scan-and-notify",
				Nodes: []config.WorkflowNode{
					{ID: "scan", Kind: config.NodeToolCall, Provider: "scanner", Tool: "scan"},
				},
			},
		},
	}
	cfg.SetDefaults()
	cfg.AutoInstall.ManifestPath = t.TempDir() + "/providers.json"

	o, err := New(cfg, noopTransport{}, nil)
	require.NoError(t, err)
	o.RegisterAdapter(echoAdapter{})
	o.Catalog.Register("scanner", "local", []catalog.ToolInfo{{Name: "scan"}})
	return o
}

func TestRunAgentCompletesAndRecordsExecution(t *testing.T) {
	o := newTestOrchestrator(t)
	rec, err := o.RunAgent(context.Background(), "researcher", "find bugs", "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, "done: mock-model", rec.FinalAnswer)
	require.NotEmpty(t, rec.Events)
	require.Equal(t, eventbus.TagComplete, rec.Events[len(rec.Events)-1].Tag)
}

func TestRunAgentUnknownIDIsTaggedError(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.RunAgent(context.Background(), "ghost", "task", "")
	require.Error(t, err)
}

func TestRunAgentAccumulatesIntoSession(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.RunAgent(context.Background(), "researcher", "find bugs", "sess-1")
	require.NoError(t, err)

	sess, err := o.Sessions.Get("sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Messages())
}

func TestRunTeamCompletes(t *testing.T) {
	o := newTestOrchestrator(t)
	rec, err := o.RunTeam(context.Background(), "squad", "task", "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
}

func TestRunTeamUnknownIDIsTaggedError(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.RunTeam(context.Background(), "ghost", "task", "")
	require.Error(t, err)
}

func TestRunWorkflowByIDCompletes(t *testing.T) {
	o := newTestOrchestrator(t)
	rec, err := o.RunWorkflow(context.Background(), "scan-and-notify")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
}

func TestCancelUnknownExecutionIsNoop(t *testing.T) {
	o := newTestOrchestrator(t)
	// Cancelling an unknown id is a no-op; this exercises that contract
	// directly since RunAgent assigns its own id internally.
	o.Cancel("does-not-exist")
}

func TestRunTriggerTargetDispatchesToAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	rec, err := o.RunTriggerTarget(context.Background(), "agent", "researcher", "task")
	require.NoError(t, err)
	require.Equal(t, KindTriggerInvocation, rec.Kind)
}

func TestRunTriggerTargetUnknownKindIsTaggedError(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.RunTriggerTarget(context.Background(), "bogus", "researcher", "task")
	require.Error(t, err)
}

// TestInstallProviderPersistsThroughTheSharedManager confirms the Provider
// Lifecycle Manager New builds is reachable from Orchestrator, that
// InstallProvider records an installation without error, and that
// StartProvider rejects a name with no installation record.
func TestInstallProviderPersistsThroughTheSharedManager(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NotNil(t, o.Providers)

	err := o.InstallProvider("files", "/usr/local/bin/fleet-provider-files", map[string]string{"ROOT": "/data"})
	require.NoError(t, err)

	err = o.StartProvider(context.Background(), "unknown-provider")
	require.Error(t, err)
}
