// Package cancellation implements the Cancellation Registry: a map from
// execution-id to a one-shot cancellation token, checked at every
// suspension point in the ReAct runtime, team coordinator, and workflow
// engine.
package cancellation

import (
	"context"
	"sync"

	"github.com/orcaforge/fleet/registry"
)

// Token is a per-execution one-shot cancellation signal. It wraps a
// context.CancelFunc so suspension points that already take a
// context.Context compose naturally with ctx.Err()/ctx.Done(), while also
// exposing an explicit IsCancelled/Wait pair for call sites (workflow node
// boundaries, team member boundaries) that don't thread a context.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewToken derives a cancellable token from a parent context.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the token's context, for call sites that accept one.
func (t *Token) Context() context.Context { return t.ctx }

// Cancel marks the token cancelled. Idempotent.
func (t *Token) Cancel() {
	t.once.Do(t.cancel)
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until the token is cancelled.
func (t *Token) Wait() {
	<-t.ctx.Done()
}

// Done returns the underlying done channel, for select statements.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Registry maps execution-id to its Token. Registration/lookup reuse the
// generic registry so the same atomicity guarantees (§5: resolve sees
// pre- or post-update state, never partial) hold here too.
type Registry struct {
	tokens *registry.Base[*Token]
}

// New creates an empty cancellation registry.
func New() *Registry {
	return &Registry{tokens: registry.New[*Token]()}
}

// Register creates and stores a new token for an execution-id, derived
// from parent. Callers own the returned token's lifetime; Unregister must
// be called when the execution reaches a terminal state to avoid leaking
// the entry (and its context) for the life of the process.
func (r *Registry) Register(executionID string, parent context.Context) *Token {
	token := NewToken(parent)
	// Registration cannot fail under a non-empty execution-id; a reused id
	// replaces the earlier token, which is a caller bug.
	_ = r.tokens.Register(executionID, token)
	return token
}

// Cancel marks the named execution's token cancelled. Cancelling an
// unknown or already-cancelled execution is a no-op, matching the
// idempotence property required by spec §8.
func (r *Registry) Cancel(executionID string) {
	if token, ok := r.tokens.Get(executionID); ok {
		token.Cancel()
	}
}

// Lookup returns the token for an execution-id, if registered.
func (r *Registry) Lookup(executionID string) (*Token, bool) {
	return r.tokens.Get(executionID)
}

// Unregister removes the token once an execution reaches a terminal
// state. Safe to call more than once.
func (r *Registry) Unregister(executionID string) {
	_ = r.tokens.Remove(executionID)
}
