package reactagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orcaforge/fleet/cancellation"
	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/modelgateway"
	"github.com/orcaforge/fleet/sessionstore"
	"github.com/orcaforge/fleet/toolclient"
)

type stepAdapter struct {
	responses []modelgateway.Response
	calls     int
}

func (a *stepAdapter) Name() string { return "mock" }
func (a *stepAdapter) Send(ctx context.Context, binding modelgateway.Binding, messages []modelgateway.Message, tools []modelgateway.ToolDeclaration) (modelgateway.Response, error) {
	resp := a.responses[a.calls]
	if a.calls < len(a.responses)-1 {
		a.calls++
	}
	return resp, nil
}

type fakeToolTransport struct {
	result map[string]any
	err    error
}

func (f *fakeToolTransport) Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error) {
	return f.result, f.err
}

func newTestRuntime(adapter modelgateway.Adapter, transport toolclient.Transport) (*Runtime, *catalog.Catalog) {
	gw := modelgateway.New(nil)
	gw.Register(adapter)

	cat := catalog.New(nil)
	cat.Register("search", "http://search.local", []catalog.ToolInfo{
		{Name: "query", Description: "search the web", Parameters: []catalog.ToolParameter{{Name: "q", Type: "string", Required: true}}},
	})

	tc := toolclient.New(transport, toolclient.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	timeouts := &config.ExecutionTimeouts{}
	timeouts.SetDefaults()

	bus := eventbus.New()
	return New(gw, tc, cat, bus, timeouts), cat
}

func baseAgentConfig() *config.AgentConfig {
	cfg := &config.AgentConfig{ID: "a1", ModelProvider: "mock", Model: "mock-1", Capabilities: []string{"search"}}
	cfg.SetDefaults()
	return cfg
}

func TestRunCompletesOnEndTurn(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{{StopReason: modelgateway.StopEndTurn, Content: "the answer"}}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{})

	result, err := rt.Run(context.Background(), baseAgentConfig(), "exec-1", "do something", nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, "the answer", result.Answer)
}

func TestRunExecutesToolThenCompletes(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{
		{StopReason: modelgateway.StopToolUse, ToolUses: []modelgateway.ToolUseRequest{{ID: "t1", Name: "search__query", Arguments: map[string]any{"q": "golang"}}}},
		{StopReason: modelgateway.StopEndTurn, Content: "done"},
	}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{result: map[string]any{"hits": 3}})

	result, err := rt.Run(context.Background(), baseAgentConfig(), "exec-1", "search something", nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, "done", result.Answer)
	require.Equal(t, 2, adapter.calls+1)
}

func TestRunFlagsOutOfCapabilityToolAsPolicyViolation(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{
		{StopReason: modelgateway.StopToolUse, ToolUses: []modelgateway.ToolUseRequest{{ID: "t1", Name: "other__query", Arguments: nil}}},
		{StopReason: modelgateway.StopEndTurn, Content: "recovered"},
	}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{})

	result, err := rt.Run(context.Background(), baseAgentConfig(), "exec-1", "task", nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
}

func TestRunRespectsPreCancelledToken(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{{StopReason: modelgateway.StopEndTurn, Content: "never reached"}}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{})

	token := cancellation.NewToken(context.Background())
	token.Cancel()

	result, err := rt.Run(context.Background(), baseAgentConfig(), "exec-1", "task", nil, nil, nil, token)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, result.Status)
}

func TestRunTreatsMaxTokensAsCompletedTruncated(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{{StopReason: modelgateway.StopMaxTokens, Content: "partial answer"}}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{})

	result, err := rt.Run(context.Background(), baseAgentConfig(), "exec-1", "task", nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompletedTruncated, result.Status)
	require.Equal(t, "partial answer", result.Answer)
}

func TestRunExhaustsMaxIterationsWithoutEndTurn(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{
		{StopReason: modelgateway.StopToolUse, Content: "thinking", ToolUses: []modelgateway.ToolUseRequest{{ID: "t1", Name: "search__query", Arguments: map[string]any{"q": "x"}}}},
	}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{result: map[string]any{"ok": true}})

	cfg := baseAgentConfig()
	cfg.MaxIterations = 2

	result, err := rt.Run(context.Background(), cfg, "exec-1", "task", nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompletedMaxIters, result.Status)
	require.Equal(t, 2, result.Iterations)
}

func TestRunAccumulatesUsageIntoSession(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{{StopReason: modelgateway.StopEndTurn, Content: "ok", Usage: modelgateway.Usage{InputTokens: 10, OutputTokens: 5}}}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{})

	sess := &sessionstore.Session{ID: "s1"}
	_, err := rt.Run(context.Background(), baseAgentConfig(), "exec-1", "task", nil, nil, sess, nil)
	require.NoError(t, err)

	in, out, _ := sess.Totals()
	require.Equal(t, 10, in)
	require.Equal(t, 5, out)
}

func TestRunSkipsMissingProviderWithWarningEvent(t *testing.T) {
	adapter := &stepAdapter{responses: []modelgateway.Response{{StopReason: modelgateway.StopEndTurn, Content: "ok"}}}
	rt, _ := newTestRuntime(adapter, &fakeToolTransport{})

	cfg := baseAgentConfig()
	cfg.Capabilities = []string{"search", "ghost-provider"}

	events := rt.Bus.Open("exec-1")
	result, err := rt.Run(context.Background(), cfg, "exec-1", "task", nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)

	rt.Bus.Close("exec-1")
	var statusMessages []string
	for ev := range events {
		if ev.Tag == eventbus.TagStatus {
			statusMessages = append(statusMessages, ev.Message)
		}
	}
	require.Contains(t, statusMessages, "capability provider unavailable, tool set reduced: ghost-provider")
}
