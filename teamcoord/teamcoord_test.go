package teamcoord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/modelgateway"
	"github.com/orcaforge/fleet/reactagent"
	"github.com/orcaforge/fleet/toolclient"
)

type echoAdapter struct{}

func (echoAdapter) Name() string { return "mock" }
func (echoAdapter) Send(ctx context.Context, binding modelgateway.Binding, messages []modelgateway.Message, tools []modelgateway.ToolDeclaration) (modelgateway.Response, error) {
	return modelgateway.Response{StopReason: modelgateway.StopEndTurn, Content: "answer from " + binding.Model}, nil
}

type noopTransport struct{}

func (noopTransport) Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error) {
	return nil, nil
}

func newTestCoordinator(bus *eventbus.Bus) *Coordinator {
	gw := modelgateway.New(nil)
	gw.Register(echoAdapter{})
	cat := catalog.New(nil)
	tc := toolclient.New(noopTransport{}, toolclient.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	timeouts := &config.ExecutionTimeouts{}
	timeouts.SetDefaults()
	rt := reactagent.New(gw, tc, cat, bus, timeouts)

	agents := map[string]*config.AgentConfig{
		"a1": {ID: "a1", ModelProvider: "mock", Model: "a1-model"},
		"a2": {ID: "a2", ModelProvider: "mock", Model: "a2-model"},
	}
	for _, a := range agents {
		a.SetDefaults()
	}
	return New(rt, agents, bus, 4)
}

func baseTeam(mode config.CoordinationMode) *config.TeamConfig {
	return &config.TeamConfig{
		ID:   "t1",
		Mode: mode,
		Members: []config.TeamMember{
			{AgentID: "a1", Role: "researcher"},
			{AgentID: "a2", Role: "writer"},
		},
	}
}

func TestRunSequentialCompletesAllMembers(t *testing.T) {
	c := newTestCoordinator(eventbus.New())
	result, err := c.Run(context.Background(), baseTeam(config.ModeSequential), "exec-1", "task", nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Members, 2)
}

func TestRunParallelCompletesAllMembers(t *testing.T) {
	c := newTestCoordinator(eventbus.New())
	result, err := c.Run(context.Background(), baseTeam(config.ModeParallel), "exec-1", "task", nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Members, 2)
}

func TestRunCollaborativePropagatesTranscript(t *testing.T) {
	c := newTestCoordinator(eventbus.New())
	team := baseTeam(config.ModeCollaborative)
	result, err := c.Run(context.Background(), team, "exec-1", "task", nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
}

func TestRunUnknownMemberAgentIsTaggedErrorInStrictMode(t *testing.T) {
	c := newTestCoordinator(eventbus.New())
	team := baseTeam(config.ModeSequential)
	team.Members = append(team.Members, config.TeamMember{AgentID: "ghost", Role: "x"})
	team.StrictMode = true

	result, err := c.Run(context.Background(), team, "exec-1", "task", nil, nil)
	require.Error(t, err)
	require.Equal(t, StatusError, result.Status)
}

func TestRunUnknownMemberAgentDegradesGracefullyWithoutStrictMode(t *testing.T) {
	c := newTestCoordinator(eventbus.New())
	team := baseTeam(config.ModeSequential)
	team.Members = append(team.Members, config.TeamMember{AgentID: "ghost", Role: "x"})

	result, err := c.Run(context.Background(), team, "exec-1", "task", nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompletedWithErrors, result.Status)
	require.Len(t, result.Members, 3)
}

func TestEffectiveCapabilitiesInheritsPoolWhenRestrictionEmpty(t *testing.T) {
	team := &config.TeamConfig{CapabilityPool: []string{"search", "email"}}
	member := config.TeamMember{AgentID: "a1"}
	require.Equal(t, []string{"search", "email"}, effectiveCapabilities(member, team))
}

func TestEffectiveCapabilitiesNarrowsToRestriction(t *testing.T) {
	team := &config.TeamConfig{CapabilityPool: []string{"search", "email"}}
	member := config.TeamMember{AgentID: "a1", CapabilityRestriction: []string{"search"}}
	require.Equal(t, []string{"search"}, effectiveCapabilities(member, team))
}
