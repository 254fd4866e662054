package modelgateway

import (
	"context"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/errs"
	"github.com/orcaforge/fleet/registry"
)

// Cancellable is satisfied by cancellation.Token; declared as a narrow
// interface here to avoid importing the cancellation package.
type Cancellable interface {
	Done() <-chan struct{}
}

// Gateway is the Model Gateway.
type Gateway struct {
	adapters *registry.Base[Adapter]
	pricing  map[string]config.ModelPrice
	fallback *tiktoken.Tiktoken
}

// New creates a Gateway with no adapters registered; call Register for
// each provider. pricing is consulted for cost computation; a model
// absent from it reports zero cost.
func New(pricing map[string]config.ModelPrice) *Gateway {
	// cl100k_base is the closest-available tokenizer for providers that
	// don't return usage with a request (used only as an estimate for a
	// provider response missing Usage, never to override an authoritative
	// count the provider itself reported).
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Gateway{
		adapters: registry.New[Adapter](),
		pricing:  pricing,
		fallback: enc,
	}
}

// Register adds a provider adapter.
func (g *Gateway) Register(a Adapter) {
	g.adapters.Register(a.Name(), a)
}

// Send routes a call to binding.Provider's adapter under a deadline
// composed with the cancellation token into a single callCtx — so an
// in-flight LLM request aborts the moment either fires, not just before
// dispatch — and fills in cost from the pricing table.
func (g *Gateway) Send(ctx context.Context, binding Binding, messages []Message, tools []ToolDeclaration, deadline time.Duration, cancel Cancellable) (Response, error) {
	if cancel != nil {
		select {
		case <-cancel.Done():
			return Response{}, errs.New("modelgateway", "send", errs.KindCancelled,
				"execution cancelled before model call", nil)
		default:
		}
	}

	a, ok := g.adapters.Get(binding.Provider)
	if !ok {
		return Response{}, errs.New("modelgateway", "send", errs.KindUnknownProvider,
			"no model provider registered with name "+binding.Provider, nil)
	}

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

	resp, err := a.Send(callCtx, binding, messages, tools)
	if err != nil {
		select {
		case <-callCtx.Done():
			return Response{}, g.doneErr(ctx, cancel, callCtx)
		default:
		}
		return Response{}, err
	}

	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		resp.Usage = g.estimateUsage(messages, resp.Content)
	}
	resp.Cost = g.cost(binding.Model, resp.Usage)
	return resp, nil
}

// doneErr classifies why callCtx is done, mirroring toolclient.Client's
// own deadline-vs-cancellation-vs-parent-done precedence.
func (g *Gateway) doneErr(parent context.Context, cancel Cancellable, callCtx context.Context) error {
	if cancel != nil {
		select {
		case <-cancel.Done():
			return errs.New("modelgateway", "send", errs.KindCancelled, "execution cancelled during model call", nil)
		default:
		}
	}
	if parent.Err() != nil {
		return errs.New("modelgateway", "send", errs.KindCancelled, "caller context done", parent.Err())
	}
	return errs.New("modelgateway", "send", errs.KindTimeout, "model call deadline exceeded", callCtx.Err())
}

// withCancelSignal returns a context derived from ctx that is also
// cancelled the moment cancel fires, so an adapter call bound to the
// returned context aborts mid-flight instead of only being checked
// before dispatch.
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

// estimateUsage falls back to tiktoken-based estimation when a provider
// response doesn't carry authoritative usage counts.
func (g *Gateway) estimateUsage(messages []Message, output string) Usage {
	if g.fallback == nil {
		return Usage{}
	}
	var inputTokens int
	for _, m := range messages {
		inputTokens += len(g.fallback.Encode(m.Content, nil, nil))
	}
	return Usage{
		InputTokens:  inputTokens,
		OutputTokens: len(g.fallback.Encode(output, nil, nil)),
	}
}

// cost computes $ cost from the pricing table; unknown models cost 0
// rather than failing the call (spec's non-goals exclude rate limiting,
// not degrading cost telemetry gracefully for an unpriced model).
func (g *Gateway) cost(model string, usage Usage) float64 {
	price, ok := g.pricing[model]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1000*price.InputPer1K +
		float64(usage.OutputTokens)/1000*price.OutputPer1K
}
