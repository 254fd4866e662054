// Package orchestrator implements the Orchestrator Facade (spec §4.11): a
// thin entry layer that assigns execution-ids, registers cancellation
// tokens, dispatches to the right runtime (agent, team, or workflow),
// publishes the execution_started/complete event pair, and persists the
// resulting execution record.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orcaforge/fleet/cancellation"
	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/errs"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/modelgateway"
	"github.com/orcaforge/fleet/observability"
	"github.com/orcaforge/fleet/providers"
	"github.com/orcaforge/fleet/reactagent"
	"github.com/orcaforge/fleet/sessionstore"
	"github.com/orcaforge/fleet/teamcoord"
	"github.com/orcaforge/fleet/toolclient"
	"github.com/orcaforge/fleet/workflowengine"
)

// Kind tags what an execution record is running.
type Kind string

const (
	KindAgent             Kind = "agent"
	KindTeam              Kind = "team"
	KindWorkflow          Kind = "workflow"
	KindTriggerInvocation Kind = "trigger-invocation"
)

// Status is an execution record's terminal status.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Record is the Execution record spec §3 names: identity, timing,
// terminal status, final answer, iteration count, and the full ordered
// event log collected from the bus for this execution-id.
type Record struct {
	ID          string
	Kind        Kind
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      Status
	FinalAnswer string
	Iterations  int
	Events      []eventbus.Event
}

// Orchestrator constructs and wires every other component from one
// config.Config and exposes the run entry points external callers and
// trigger containers use.
type Orchestrator struct {
	Config *config.Config
	Log    *slog.Logger

	Gateway   *modelgateway.Gateway
	Tools     *toolclient.Client
	Catalog   *catalog.Catalog
	Providers *providers.Manager
	Bus       *eventbus.Bus
	Cancels   *cancellation.Registry
	Sessions  *sessionstore.Store

	Agent    *reactagent.Runtime
	Team     *teamcoord.Coordinator
	Workflow *workflowengine.Engine

	Metrics *observability.Metrics

	mu           sync.Mutex
	executions   map[string]*Record
	consumerDone map[string]chan struct{}
	spans        map[string]trace.Span
}

// deferredProbe lets the Catalog hold a catalog.HealthProbe before the
// Provider Lifecycle Manager that implements it exists yet — New needs the
// Catalog to build the Manager, and the Catalog needs a probe at
// construction, so the probe is bound in after both exist.
type deferredProbe struct {
	mgr *providers.Manager
}

func (p *deferredProbe) Probe(ctx context.Context, endpoint string) error {
	if p.mgr == nil {
		return nil
	}
	return p.mgr.Probe(ctx, endpoint)
}

// New wires every component from cfg. transport backs the Tool Client;
// callers select MCP or HTTP per their deployment the same way the
// Provider Lifecycle Manager does. The returned Orchestrator's Providers
// field is a live Provider Lifecycle Manager sharing its Catalog, so
// InstallProvider/StartProvider actually populate the catalog agents and
// workflows resolve tools from.
func New(cfg *config.Config, transport toolclient.Transport, log *slog.Logger) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}
	probe := &deferredProbe{}
	cat := catalog.New(probe)
	bus := eventbus.New()
	gateway := modelgateway.New(cfg.ModelPricing)
	tools := toolclient.New(transport, toolclient.DefaultRetryPolicy)
	sessions := sessionstore.New()
	cancels := cancellation.New()
	metrics := observability.NewMetrics()

	mgr, err := providers.NewManager(cat, cfg.AutoInstall.ManifestPath)
	if err != nil {
		return nil, errs.New("orchestrator", "new", errs.KindConfigurationError,
			"failed to load provider manifest "+cfg.AutoInstall.ManifestPath, err)
	}
	mgr.HealthMetrics = metrics
	probe.mgr = mgr

	agentRuntime := reactagent.New(gateway, tools, cat, bus, &cfg.ExecutionTimeouts)
	team := teamcoord.New(agentRuntime, cfg.Agents, bus, cfg.TeamDefaults.DefaultMaxConcurrentAgents)
	workflow := workflowengine.New(tools, cat, bus)

	return &Orchestrator{
		Config:       cfg,
		Log:          log.With("component", "orchestrator"),
		Gateway:      gateway,
		Tools:        tools,
		Catalog:      cat,
		Providers:    mgr,
		Bus:          bus,
		Cancels:      cancels,
		Sessions:     sessions,
		Agent:        agentRuntime,
		Team:         team,
		Workflow:     workflow,
		Metrics:      metrics,
		executions:   make(map[string]*Record),
		consumerDone: make(map[string]chan struct{}),
		spans:        make(map[string]trace.Span),
	}, nil
}

// RegisterAdapter exposes Gateway.Register so callers can wire model
// providers (OpenAI, Anthropic, ...) without reaching into Orchestrator's
// internals directly.
func (o *Orchestrator) RegisterAdapter(a modelgateway.Adapter) {
	o.Gateway.Register(a)
}

// Cancel marks executionID's token cancelled. A no-op for an unknown or
// already-terminal execution-id, matching spec §8's idempotence
// requirement.
func (o *Orchestrator) Cancel(executionID string) {
	o.Cancels.Cancel(executionID)
}

// InstallProvider records a tool/trigger provider's binary path with the
// Provider Lifecycle Manager, without starting it. Call StartProvider
// (or ReconcileProviders on the next boot) to bring it up and populate
// the Catalog with the tools it discovers.
func (o *Orchestrator) InstallProvider(name, path string, env map[string]string) error {
	return o.Providers.Install(name, path, env)
}

// StartProvider launches an installed provider's subprocess and, once its
// handshake and health check succeed, registers its discovered tools in
// the Catalog — the only path by which agents and workflows gain real
// tools to call outside of tests that hand-build a Catalog directly.
func (o *Orchestrator) StartProvider(ctx context.Context, name string) error {
	return o.Providers.Start(ctx, name)
}

// StopProvider deregisters name from the Catalog and terminates its
// subprocess.
func (o *Orchestrator) StopProvider(name string) error {
	return o.Providers.Stop(name)
}

// RestartProvider stops then starts an installed provider.
func (o *Orchestrator) RestartProvider(ctx context.Context, name string) error {
	return o.Providers.Restart(ctx, name)
}

// UninstallProvider stops a running provider, if any, and removes its
// installation record.
func (o *Orchestrator) UninstallProvider(name string) error {
	return o.Providers.Uninstall(name)
}

// ReconcileProviders starts every enabled installed provider recorded in
// the manifest, so a restarted fleetd process comes back up with the
// same tools available without an operator re-running install/start.
func (o *Orchestrator) ReconcileProviders(ctx context.Context) []error {
	return o.Providers.ReconcileOnBoot(ctx)
}

// Get returns the execution record for executionID, if still held.
func (o *Orchestrator) Get(executionID string) (Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.executions[executionID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// RunAgent runs one agent definition against task, returning its
// execution record. sessionID, if non-empty, is resolved or created in
// the Session Store and accumulates this run's messages and usage.
func (o *Orchestrator) RunAgent(ctx context.Context, agentID, task, sessionID string) (Record, error) {
	agentCfg, ok := o.Config.Agents[agentID]
	if !ok {
		return Record{}, errs.New("orchestrator", "run_agent", errs.KindConfigurationError,
			"unknown agent id "+agentID, nil)
	}

	spanCtx, executionID, cancelToken, sess := o.begin(ctx, KindAgent, sessionID)
	defer o.end(executionID)

	o.publishStarted(executionID, KindAgent)
	result, err := o.Agent.Run(spanCtx, agentCfg, executionID, task, nil, nil, sess, cancelToken)
	return o.finish(executionID, KindAgent, statusFromAgent(result.Status), result.Answer, result.Iterations, err), err
}

// RunTeam runs a team definition against task.
func (o *Orchestrator) RunTeam(ctx context.Context, teamID, task, sessionID string) (Record, error) {
	teamCfg, ok := o.Config.Teams[teamID]
	if !ok {
		return Record{}, errs.New("orchestrator", "run_team", errs.KindConfigurationError,
			"unknown team id "+teamID, nil)
	}

	spanCtx, executionID, cancelToken, sess := o.begin(ctx, KindTeam, sessionID)
	defer o.end(executionID)

	o.publishStarted(executionID, KindTeam)
	result, err := o.Team.Run(spanCtx, teamCfg, executionID, task, sess, cancelToken)

	var answer string
	iterations := 0
	for _, m := range result.Members {
		iterations += m.Result.Iterations
		if m.Result.Answer != "" {
			answer = m.Result.Answer
		}
	}
	return o.finish(executionID, KindTeam, statusFromTeam(result.Status), answer, iterations, err), err
}

// RunWorkflow runs a workflow definition to completion.
func (o *Orchestrator) RunWorkflow(ctx context.Context, workflowID string) (Record, error) {
	wf, ok := o.Config.Workflows[workflowID]
	if !ok {
		return Record{}, errs.New("orchestrator", "run_workflow", errs.KindConfigurationError,
			"unknown workflow id "+workflowID, nil)
	}

	spanCtx, executionID, cancelToken, _ := o.begin(ctx, KindWorkflow, "")
	defer o.end(executionID)

	o.publishStarted(executionID, KindWorkflow)
	result, err := o.Workflow.Run(spanCtx, wf, executionID, cancelToken, o.Config.ExecutionTimeouts.PerToolCall())
	return o.finish(executionID, KindWorkflow, statusFromWorkflow(result.Status), "", len(result.Order), err), err
}

// RunTriggerTarget is the callback surface trigger containers invoke
// (spec §4.4): targetKind is "agent", "team" or "workflow", targetID names
// the definition, and task is the rendered webhook/schedule task template.
// Agent and team targets run as trigger-invocation executions; a workflow
// target runs through RunWorkflow as a workflow execution and task is not
// used.
func (o *Orchestrator) RunTriggerTarget(ctx context.Context, targetKind, targetID, task string) (Record, error) {
	switch targetKind {
	case "agent":
		return o.runTriggerAgent(ctx, targetID, task)
	case "team":
		return o.runTriggerTeam(ctx, targetID, task)
	case "workflow":
		return o.RunWorkflow(ctx, targetID)
	default:
		return Record{}, errs.New("orchestrator", "run_trigger_target", errs.KindConfigurationError,
			"unknown trigger target kind "+targetKind, nil)
	}
}

func (o *Orchestrator) runTriggerAgent(ctx context.Context, agentID, task string) (Record, error) {
	agentCfg, ok := o.Config.Agents[agentID]
	if !ok {
		return Record{}, errs.New("orchestrator", "run_trigger_target", errs.KindConfigurationError,
			"unknown agent id "+agentID, nil)
	}
	spanCtx, executionID, cancelToken, _ := o.begin(ctx, KindTriggerInvocation, "")
	defer o.end(executionID)

	o.publishStarted(executionID, KindTriggerInvocation)
	result, err := o.Agent.Run(spanCtx, agentCfg, executionID, task, nil, nil, nil, cancelToken)
	return o.finish(executionID, KindTriggerInvocation, statusFromAgent(result.Status), result.Answer, result.Iterations, err), err
}

func (o *Orchestrator) runTriggerTeam(ctx context.Context, teamID, task string) (Record, error) {
	teamCfg, ok := o.Config.Teams[teamID]
	if !ok {
		return Record{}, errs.New("orchestrator", "run_trigger_target", errs.KindConfigurationError,
			"unknown team id "+teamID, nil)
	}
	spanCtx, executionID, cancelToken, _ := o.begin(ctx, KindTriggerInvocation, "")
	defer o.end(executionID)

	o.publishStarted(executionID, KindTriggerInvocation)
	result, err := o.Team.Run(spanCtx, teamCfg, executionID, task, nil, cancelToken)

	var answer string
	for _, m := range result.Members {
		if m.Result.Answer != "" {
			answer = m.Result.Answer
		}
	}
	return o.finish(executionID, KindTriggerInvocation, statusFromTeam(result.Status), answer, 0, err), err
}

// begin assigns a UUIDv7 execution-id, registers its cancellation token,
// opens its bus stream with a draining consumer, resolves/creates its
// session (if requested), starts this execution's trace span as a child
// of the cancellation token's own context, and records the entry in the
// execution table. The returned context is therefore a genuine
// descendant of the token: cancelling it tears down everything the
// caller's runtime call does under the returned context, not just a
// sibling that happens to share the same trace.
func (o *Orchestrator) begin(ctx context.Context, kind Kind, sessionID string) (context.Context, string, *cancellation.Token, *sessionstore.Session) {
	id, err := uuid.NewV7()
	executionID := id.String()
	if err != nil {
		// UUIDv7 generation failing means the system clock/entropy source
		// is broken; fall back to v4 rather than leaving the id empty.
		executionID = uuid.NewString()
	}

	cancelToken := o.Cancels.Register(executionID, ctx)

	var sess *sessionstore.Session
	if sessionID != "" {
		sess = o.Sessions.GetOrCreate(sessionID)
	}
	o.startConsumer(executionID, sess)

	spanCtx, span := observability.Tracer("fleet.orchestrator").Start(cancelToken.Context(), observability.SpanExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrExecutionKind, string(kind)),
			attribute.String(observability.AttrExecutionID, executionID),
		))

	o.mu.Lock()
	o.executions[executionID] = &Record{ID: executionID, Kind: kind, StartedAt: time.Now()}
	o.spans[executionID] = span
	o.mu.Unlock()

	o.Log.Info("execution started", "execution_id", executionID, "kind", kind)
	return spanCtx, executionID, cancelToken, sess
}

// startConsumer drains one execution's bus stream into its record until
// the stream closes, signalling consumerDone so finish() can wait for the
// terminal event to land before snapshotting the record.
func (o *Orchestrator) startConsumer(executionID string, sess *sessionstore.Session) {
	ch := o.Bus.Open(executionID)
	done := make(chan struct{})

	o.mu.Lock()
	o.consumerDone[executionID] = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		toolStarted := make(map[string]time.Time)
		for ev := range ch {
			o.mu.Lock()
			if rec, ok := o.executions[executionID]; ok {
				rec.Events = append(rec.Events, ev)
			}
			o.mu.Unlock()
			if sess != nil {
				appendSessionMessage(sess, ev)
			}
			o.recordMetrics(ev, toolStarted)
		}
	}()
}

// recordMetrics updates the Prometheus series backing SPEC_FULL.md §2's
// observability layer as events land, matching the teacher's
// callback-driven instrumentation rather than threading a metrics handle
// through every lower layer's constructor.
func (o *Orchestrator) recordMetrics(ev eventbus.Event, toolStarted map[string]time.Time) {
	switch ev.Tag {
	case eventbus.TagIterationStart:
		o.Metrics.RecordIteration(ev.AgentID)
	case eventbus.TagToolExecution:
		toolStarted[ev.ToolName] = ev.Timestamp
	case eventbus.TagToolResult:
		var dur time.Duration
		if started, ok := toolStarted[ev.ToolName]; ok {
			dur = ev.Timestamp.Sub(started)
			delete(toolStarted, ev.ToolName)
		}
		o.Metrics.RecordToolCall(ev.ToolName, dur, ev.ToolErrorKind)
	case eventbus.TagCumulativeTokens:
		o.Metrics.RecordTokens(ev.Model, ev.InputTokens, ev.OutputTokens, ev.Cost)
	}
}

// appendSessionMessage translates one bus event into the conversation
// session's ordered message log, per spec §3's note that the session log
// and the execution's event log are distinct but related.
func appendSessionMessage(sess *sessionstore.Session, ev eventbus.Event) {
	switch ev.Tag {
	case eventbus.TagAgentAnswer:
		sess.Append(sessionstore.Message{Kind: sessionstore.MessageAssistant, Content: ev.Answer})
	case eventbus.TagError:
		sess.Append(sessionstore.Message{Kind: sessionstore.MessageError, Content: ev.Message})
	case eventbus.TagIterationStart:
		sess.Append(sessionstore.Message{Kind: sessionstore.MessageAgentStatus, StatusKind: sessionstore.StatusIterationStart})
	case eventbus.TagAgentReasoning:
		sess.Append(sessionstore.Message{Kind: sessionstore.MessageAgentStatus, StatusKind: sessionstore.StatusAgentReasoning, Content: ev.ReasoningText})
	case eventbus.TagToolExecution:
		sess.Append(sessionstore.Message{Kind: sessionstore.MessageAgentStatus, StatusKind: sessionstore.StatusToolExecution, Content: ev.ToolName})
	case eventbus.TagToolResult:
		sess.Append(sessionstore.Message{Kind: sessionstore.MessageAgentStatus, StatusKind: sessionstore.StatusToolResult, Content: ev.ToolName})
	case eventbus.TagAgentComplete:
		sess.Append(sessionstore.Message{Kind: sessionstore.MessageAgentStatus, StatusKind: sessionstore.StatusAgentComplete})
	}
}

func (o *Orchestrator) publishStarted(executionID string, kind Kind) {
	o.Bus.Publish(eventbus.Event{ExecutionID: executionID, Tag: eventbus.TagExecutionStarted, Kind: string(kind)})
}

// finish publishes the true bus-closing terminal event (eventbus.TagComplete,
// distinct from the ReAct runtime's internal eventbus.TagAgentComplete
// marker, since an agent run may be nested inside a team or workflow
// execution sharing this execution-id's stream) and updates the record.
func (o *Orchestrator) finish(executionID string, kind Kind, status Status, answer string, iterations int, runErr error) Record {
	evt := eventbus.Event{
		ExecutionID: executionID,
		Tag:         eventbus.TagComplete,
		Kind:        string(kind),
		Status:      string(status),
		FinalAnswer: answer,
	}
	if runErr != nil {
		evt.Message = runErr.Error()
	}
	o.Bus.PublishTerminal(evt)

	o.mu.Lock()
	done := o.consumerDone[executionID]
	delete(o.consumerDone, executionID)
	o.mu.Unlock()
	if done != nil {
		<-done
	}

	o.mu.Lock()
	rec := o.executions[executionID]
	rec.Status = status
	rec.FinalAnswer = answer
	rec.Iterations = iterations
	rec.FinishedAt = time.Now()
	snapshot := *rec
	snapshot.Events = append([]eventbus.Event(nil), rec.Events...)
	span := o.spans[executionID]
	delete(o.spans, executionID)
	o.mu.Unlock()

	if span != nil {
		span.SetAttributes(attribute.String("fleet.execution.status", string(status)))
		span.End()
	}
	o.Metrics.RecordRun(string(kind), string(status), rec.FinishedAt.Sub(rec.StartedAt))

	o.Log.Info("execution finished", "execution_id", executionID, "kind", kind, "status", status)
	return snapshot
}

// end unregisters the cancellation token once an execution reaches a
// terminal state, per spec §4.7's "tear down on exit" requirement.
func (o *Orchestrator) end(executionID string) {
	o.Cancels.Unregister(executionID)
}

func statusFromAgent(s reactagent.Status) Status {
	switch s {
	case reactagent.StatusCancelled:
		return StatusCancelled
	case reactagent.StatusError:
		return StatusError
	default:
		return StatusCompleted
	}
}

func statusFromTeam(s teamcoord.Status) Status {
	switch s {
	case teamcoord.StatusCancelled:
		return StatusCancelled
	case teamcoord.StatusError:
		return StatusError
	default:
		return StatusCompleted
	}
}

func statusFromWorkflow(s workflowengine.Status) Status {
	switch s {
	case workflowengine.StatusCancelled:
		return StatusCancelled
	default:
		return StatusCompleted
	}
}
