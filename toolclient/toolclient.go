// Package toolclient implements the Tool Client (spec §4.4): a uniform
// invocation surface over a pluggable Transport, with capped exponential
// backoff and the error-kind taxonomy from errs.
package toolclient

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/orcaforge/fleet/errs"
)

// Transport performs one tool call against a provider endpoint. Distinct
// transports exist for MCP-speaking providers and for plain
// JSON-over-HTTP providers; a Client uses the one transport it was
// created with for every provider.
type Transport interface {
	Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error)
}

// RetryPolicy configures the capped exponential backoff applied between
// transport-failure retries. A provider-reported error or malformed
// response is never retried — only transport-level failures are, since
// those are the only ones a retry can plausibly fix.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the teacher's httpclient defaults (3
// attempts, 2s base delay).
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	MaxDelay:    30 * time.Second,
}

// Client is the Tool Client.
type Client struct {
	transport Transport
	retry     RetryPolicy
}

// New creates a Client over the given transport using policy. A zero
// RetryPolicy is replaced with DefaultRetryPolicy.
func New(transport Transport, policy RetryPolicy) *Client {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy
	}
	return &Client{transport: transport, retry: policy}
}

// Cancellable is satisfied by cancellation.Token; accepted as an interface
// here so toolclient doesn't import the cancellation package directly.
type Cancellable interface {
	Done() <-chan struct{}
}

// Call invokes one tool, applying deadline composed with the
// cancellation token into a single callCtx so an in-flight transport
// call aborts the moment either fires — not just between retry
// attempts — then applies transport-failure retry with capped
// exponential backoff and jitter.
func (c *Client) Call(ctx context.Context, endpoint, tool string, arguments map[string]any, deadline time.Duration, cancel Cancellable) (map[string]any, error) {
	callCtx := ctx
	var stop context.CancelFunc
	if deadline > 0 {
		callCtx, stop = context.WithTimeout(callCtx, deadline)
		defer stop()
	}
	if cancel != nil {
		var stopCancel context.CancelFunc
		callCtx, stopCancel = withCancelSignal(callCtx, cancel)
		defer stopCancel()
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		select {
		case <-callCtx.Done():
			return nil, c.doneErr(ctx, cancel, callCtx)
		default:
		}

		result, err := c.transport.Call(callCtx, endpoint, tool, arguments)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errs.KindOf(err) != errs.KindTransportFailure {
			return nil, err
		}
		if attempt == c.retry.MaxAttempts-1 {
			select {
			case <-callCtx.Done():
				return nil, c.doneErr(ctx, cancel, callCtx)
			default:
			}
			break
		}

		delay := c.backoff(attempt)
		select {
		case <-time.After(delay):
		case <-callCtx.Done():
			return nil, c.doneErr(ctx, cancel, callCtx)
		}
	}

	return nil, errs.New("toolclient", "call", errs.KindTransportFailure,
		"tool call failed after retries", lastErr)
}

// doneErr classifies why callCtx is done: an explicit cancellation-token
// fire outranks a plain parent-context cancellation, which outranks the
// default interpretation of a deadline having elapsed.
func (c *Client) doneErr(parent context.Context, cancel Cancellable, callCtx context.Context) error {
	if cancel != nil {
		select {
		case <-cancel.Done():
			return errs.New("toolclient", "call", errs.KindCancelled, "execution cancelled during tool call", nil)
		default:
		}
	}
	if parent.Err() != nil {
		return errs.New("toolclient", "call", errs.KindCancelled, "caller context done", parent.Err())
	}
	return errs.New("toolclient", "call", errs.KindTimeout, "tool call deadline exceeded", callCtx.Err())
}

// withCancelSignal returns a context derived from ctx that is also
// cancelled the moment cancel fires, so a transport call bound to the
// returned context aborts mid-flight instead of only being checked
// between attempts.
func withCancelSignal(ctx context.Context, cancel Cancellable) (context.Context, context.CancelFunc) {
	merged, stop := context.WithCancel(ctx)
	go func() {
		select {
		case <-cancel.Done():
			stop()
		case <-merged.Done():
		}
	}()
	return merged, stop
}

// backoff computes a capped exponential delay with full jitter.
func (c *Client) backoff(attempt int) time.Duration {
	exp := float64(c.retry.BaseDelay) * math.Pow(2, float64(attempt))
	if exp > float64(c.retry.MaxDelay) {
		exp = float64(c.retry.MaxDelay)
	}
	return time.Duration(rand.Float64() * exp)
}
