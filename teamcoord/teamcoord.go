// Package teamcoord implements the Team Coordinator (spec §4.9): runs a
// team definition over a task in sequential, parallel, or collaborative
// mode, delegating each member to the Agent ReAct Runtime.
package teamcoord

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orcaforge/fleet/cancellation"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/errs"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/modelgateway"
	"github.com/orcaforge/fleet/reactagent"
	"github.com/orcaforge/fleet/sessionstore"
)

// Status is the terminal outcome of one team run.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed-with-errors"
	StatusError               Status = "error"
	StatusCancelled           Status = "cancelled"
)

// MemberResult is one member's outcome within a team run.
type MemberResult struct {
	AgentID string
	Role    string
	Result  reactagent.Result
	Err     error
}

// Result is the outcome of one team Run call.
type Result struct {
	Status  Status
	Members []MemberResult
}

// Coordinator runs TeamConfigs against the shared ReAct Runtime.
type Coordinator struct {
	Runtime                    *reactagent.Runtime
	Agents                     map[string]*config.AgentConfig
	Bus                        *eventbus.Bus
	DefaultMaxConcurrentAgents int
}

// New creates a Coordinator. agents is looked up by TeamMember.AgentID.
func New(rt *reactagent.Runtime, agents map[string]*config.AgentConfig, bus *eventbus.Bus, defaultMaxConcurrentAgents int) *Coordinator {
	if defaultMaxConcurrentAgents <= 0 {
		defaultMaxConcurrentAgents = 8
	}
	return &Coordinator{Runtime: rt, Agents: agents, Bus: bus, DefaultMaxConcurrentAgents: defaultMaxConcurrentAgents}
}

// Run executes teamCfg against task.
func (c *Coordinator) Run(ctx context.Context, teamCfg *config.TeamConfig, executionID, task string, sess *sessionstore.Session, cancel *cancellation.Token) (Result, error) {
	switch teamCfg.Mode {
	case config.ModeParallel:
		return c.runParallel(ctx, teamCfg, executionID, task, sess, cancel)
	case config.ModeCollaborative:
		return c.runSequentialLike(ctx, teamCfg, executionID, task, sess, cancel, true)
	default:
		return c.runSequentialLike(ctx, teamCfg, executionID, task, sess, cancel, false)
	}
}

// runSequentialLike handles both sequential and collaborative modes. Each
// member sees the running transcript of prior answers: always in
// collaborative mode, preceded by an instruction to critique and extend
// it, and in sequential mode only when ShareContext is set.
func (c *Coordinator) runSequentialLike(ctx context.Context, teamCfg *config.TeamConfig, executionID, task string, sess *sessionstore.Session, cancel *cancellation.Token, collaborative bool) (Result, error) {
	var members []MemberResult
	var transcript []modelgateway.Message
	anyError := false

	for _, m := range teamCfg.Members {
		if cancel != nil && cancel.IsCancelled() {
			return Result{Status: StatusCancelled, Members: members}, nil
		}

		agentCfg, ok := c.Agents[m.AgentID]
		if !ok {
			err := errs.New("teamcoord", "run", errs.KindConfigurationError,
				"team member references unknown agent "+m.AgentID, nil)
			members = append(members, MemberResult{AgentID: m.AgentID, Role: m.Role, Err: err})
			anyError = true
			if teamCfg.StrictMode {
				return Result{Status: StatusError, Members: members}, err
			}
			continue
		}

		capabilities := effectiveCapabilities(m, teamCfg)
		extraContext := c.buildExtraContext(m, transcript, teamCfg.ShareContext, collaborative)

		c.publishAgentStart(executionID, agentCfg.ID, m.Role)
		result, err := c.Runtime.Run(ctx, agentCfg, executionID, task, extraContext, capabilities, sess, cancel)
		members = append(members, MemberResult{AgentID: m.AgentID, Role: m.Role, Result: result, Err: err})

		if err != nil || result.Status == reactagent.StatusError {
			anyError = true
			if teamCfg.StrictMode {
				return Result{Status: StatusError, Members: members}, err
			}
		}
		if result.Status == reactagent.StatusCancelled {
			return Result{Status: StatusCancelled, Members: members}, nil
		}

		if teamCfg.ShareContext || collaborative {
			transcript = append(transcript, modelgateway.Message{
				Role:    modelgateway.RoleAssistant,
				Content: fmt.Sprintf("[%s / %s]: %s", m.AgentID, m.Role, result.Answer),
			})
		}
	}

	if anyError {
		return Result{Status: StatusCompletedWithErrors, Members: members}, nil
	}
	return Result{Status: StatusCompleted, Members: members}, nil
}

// runParallel launches every member concurrently, bounded by the team's
// (or engine default) max-concurrency. Each member receives only the task
// and no shared context, so members never observe each other mid-flight.
func (c *Coordinator) runParallel(ctx context.Context, teamCfg *config.TeamConfig, executionID, task string, sess *sessionstore.Session, cancel *cancellation.Token) (Result, error) {
	limit := teamCfg.MaxConcurrentAgents
	if limit <= 0 {
		limit = c.DefaultMaxConcurrentAgents
	}

	members := make([]MemberResult, len(teamCfg.Members))
	sem := make(chan struct{}, limit)
	var mu sync.Mutex
	var anyError bool

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range teamCfg.Members {
		i, m := i, m
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			agentCfg, ok := c.Agents[m.AgentID]
			if !ok {
				err := errs.New("teamcoord", "run", errs.KindConfigurationError,
					"team member references unknown agent "+m.AgentID, nil)
				mu.Lock()
				members[i] = MemberResult{AgentID: m.AgentID, Role: m.Role, Err: err}
				anyError = true
				mu.Unlock()
				return nil
			}

			capabilities := effectiveCapabilities(m, teamCfg)
			c.publishAgentStart(executionID, agentCfg.ID, m.Role)
			result, err := c.Runtime.Run(gctx, agentCfg, executionID, task, nil, capabilities, sess, cancel)

			mu.Lock()
			members[i] = MemberResult{AgentID: m.AgentID, Role: m.Role, Result: result, Err: err}
			if err != nil || result.Status == reactagent.StatusError {
				anyError = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if cancel != nil && cancel.IsCancelled() {
		return Result{Status: StatusCancelled, Members: members}, nil
	}
	if anyError {
		if teamCfg.StrictMode {
			return Result{Status: StatusError, Members: members}, nil
		}
		return Result{Status: StatusCompletedWithErrors, Members: members}, nil
	}
	return Result{Status: StatusCompleted, Members: members}, nil
}

// effectiveCapabilities substitutes the member's visible tool set per
// spec §4.9: a member restriction narrows the team's capability pool; an
// empty restriction inherits the whole pool.
func effectiveCapabilities(m config.TeamMember, teamCfg *config.TeamConfig) []string {
	if len(m.CapabilityRestriction) > 0 {
		return m.CapabilityRestriction
	}
	return teamCfg.CapabilityPool
}

func (c *Coordinator) buildExtraContext(m config.TeamMember, transcript []modelgateway.Message, shareContext, collaborative bool) []modelgateway.Message {
	if len(transcript) == 0 {
		return nil
	}
	if collaborative {
		instruction := modelgateway.Message{
			Role:    modelgateway.RoleUser,
			Content: "Review the prior team members' answers below. Critique and extend their work rather than starting fresh.",
		}
		return append([]modelgateway.Message{instruction}, transcript...)
	}
	if shareContext {
		return transcript
	}
	return nil
}

func (c *Coordinator) publishAgentStart(executionID, agentID, role string) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(eventbus.Event{ExecutionID: executionID, Tag: eventbus.TagAgentStart, AgentID: agentID, Role: role})
}
