package modelgateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/errs"
)

type fakeAdapter struct {
	name string
	resp Response
	err  error
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Send(ctx context.Context, binding Binding, messages []Message, tools []ToolDeclaration) (Response, error) {
	return f.resp, f.err
}

type fakeCancellable struct {
	done chan struct{}
}

func (f fakeCancellable) Done() <-chan struct{} { return f.done }

func TestSendRoutesToRegisteredAdapter(t *testing.T) {
	g := New(nil)
	g.Register(&fakeAdapter{name: "mock", resp: Response{Content: "hi", StopReason: StopEndTurn, Usage: Usage{InputTokens: 10, OutputTokens: 5}}})

	resp, err := g.Send(context.Background(), Binding{Provider: "mock", Model: "mock-1"}, nil, nil, 0, nil)
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Content)
}

func TestSendUnknownProviderIsTaggedError(t *testing.T) {
	g := New(nil)
	_, err := g.Send(context.Background(), Binding{Provider: "ghost"}, nil, nil, 0, nil)
	require.Error(t, err)
	require.Equal(t, errs.KindUnknownProvider, errs.KindOf(err))
}

func TestSendReturnsCancelledBeforeDispatch(t *testing.T) {
	g := New(nil)
	g.Register(&fakeAdapter{name: "mock"})
	done := make(chan struct{})
	close(done)

	_, err := g.Send(context.Background(), Binding{Provider: "mock"}, nil, nil, 0, fakeCancellable{done: done})
	require.Error(t, err)
	require.Equal(t, errs.KindCancelled, errs.KindOf(err))
}

func TestSendComputesCostFromPricingTable(t *testing.T) {
	pricing := map[string]config.ModelPrice{"mock-1": {InputPer1K: 1.0, OutputPer1K: 2.0}}
	g := New(pricing)
	g.Register(&fakeAdapter{name: "mock", resp: Response{Usage: Usage{InputTokens: 1000, OutputTokens: 500}}})

	resp, err := g.Send(context.Background(), Binding{Provider: "mock", Model: "mock-1"}, nil, nil, 0, nil)
	require.NoError(t, err)
	require.InDelta(t, 2.0, resp.Cost, 0.001)
}

func TestSendUnpricedModelReportsZeroCost(t *testing.T) {
	g := New(map[string]config.ModelPrice{})
	g.Register(&fakeAdapter{name: "mock", resp: Response{Usage: Usage{InputTokens: 1000, OutputTokens: 500}}})

	resp, err := g.Send(context.Background(), Binding{Provider: "mock", Model: "unpriced"}, nil, nil, 0, nil)
	require.NoError(t, err)
	require.Zero(t, resp.Cost)
}

func TestSendEstimatesUsageWhenAdapterReportsNone(t *testing.T) {
	g := New(nil)
	g.Register(&fakeAdapter{name: "mock", resp: Response{Content: "a fairly short reply"}})

	resp, err := g.Send(context.Background(), Binding{Provider: "mock"}, []Message{{Role: RoleUser, Content: "hello there, how are you today?"}}, nil, 0, nil)
	require.NoError(t, err)
	require.Positive(t, resp.Usage.InputTokens)
	require.Positive(t, resp.Usage.OutputTokens)
}

func TestSendPropagatesAdapterError(t *testing.T) {
	g := New(nil)
	wantErr := errs.New("modelgateway", "send", errs.KindTransportFailure, "boom", nil)
	g.Register(&fakeAdapter{name: "mock", err: wantErr})

	_, err := g.Send(context.Background(), Binding{Provider: "mock"}, nil, nil, 0, nil)
	require.Error(t, err)
	require.Equal(t, errs.KindTransportFailure, errs.KindOf(err))
}

// blockingAdapter blocks until its ctx is done, the way a real provider
// adapter's in-flight HTTP request blocks until its context cancels it.
type blockingAdapter struct{}

func (b *blockingAdapter) Name() string { return "mock" }
func (b *blockingAdapter) Send(ctx context.Context, binding Binding, messages []Message, tools []ToolDeclaration) (Response, error) {
	<-ctx.Done()
	return Response{}, errs.New("modelgateway", "send", errs.KindTransportFailure, "request aborted", ctx.Err())
}

func TestSendAbortsInFlightAdapterCallOnCancel(t *testing.T) {
	g := New(nil)
	g.Register(&blockingAdapter{})
	cancel := fakeCancellable{done: make(chan struct{})}

	errCh := make(chan error, 1)
	go func() {
		_, err := g.Send(context.Background(), Binding{Provider: "mock"}, nil, nil, 0, cancel)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	close(cancel.done)

	select {
	case err := <-errCh:
		require.Error(t, err)
		require.Equal(t, errs.KindCancelled, errs.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("Send did not abort the blocked adapter call after cancellation")
	}
}
