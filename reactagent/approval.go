package reactagent

import (
	"context"
	"sync"
)

// ApprovalGate implements the human-approval gating supplement for agents
// whose definition sets requireApproval: a tool call pauses between steps
// 6a and 6c of the ReAct loop until an external caller resolves it with
// Resolve.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

// NewApprovalGate creates an empty gate.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{pending: make(map[string]chan bool)}
}

func key(executionID, toolUseID string) string { return executionID + "/" + toolUseID }

// await blocks until Resolve is called for this (executionID, toolUseID)
// pair or the context is done, whichever comes first. A wait ended by the
// context is treated as not-approved.
func (g *ApprovalGate) await(ctx context.Context, executionID, toolUseID string) bool {
	k := key(executionID, toolUseID)
	ch := make(chan bool, 1)

	g.mu.Lock()
	g.pending[k] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, k)
		g.mu.Unlock()
	}()

	select {
	case approved := <-ch:
		return approved
	case <-ctx.Done():
		return false
	}
}

// Resolve answers a pending approval. A resolution for a tool call that
// was never awaited (already timed out, or never requested) is a no-op.
func (g *ApprovalGate) Resolve(executionID, toolUseID string, approved bool) {
	g.mu.Lock()
	ch, ok := g.pending[key(executionID, toolUseID)]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- approved:
	default:
	}
}
