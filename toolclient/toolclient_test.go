package toolclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orcaforge/fleet/errs"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	calls   int32
	failN   int32 // fail this many times with transport-failure before succeeding
	permErr error
}

func (f *fakeTransport) Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.permErr != nil {
		return nil, f.permErr
	}
	if n <= f.failN {
		return nil, errs.New("fake", "call", errs.KindTransportFailure, "simulated failure", nil)
	}
	return map[string]any{"ok": true}, nil
}

func TestCallSucceedsAfterTransientFailures(t *testing.T) {
	ft := &fakeTransport{failN: 1}
	c := New(ft, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	result, err := c.Call(context.Background(), "ep", "tool", nil, time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, result)
	require.Equal(t, int32(2), atomic.LoadInt32(&ft.calls))
}

func TestCallExhaustsRetriesAndReturnsTransportFailure(t *testing.T) {
	ft := &fakeTransport{failN: 100}
	c := New(ft, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	_, err := c.Call(context.Background(), "ep", "tool", nil, time.Second, nil)
	require.Error(t, err)
	require.Equal(t, errs.KindTransportFailure, errs.KindOf(err))
	require.Equal(t, int32(3), atomic.LoadInt32(&ft.calls))
}

func TestCallDoesNotRetryProviderReportedError(t *testing.T) {
	ft := &fakeTransport{permErr: errs.New("fake", "call", errs.KindProviderReportedErr, "bad input", nil)}
	c := New(ft, DefaultRetryPolicy)

	_, err := c.Call(context.Background(), "ep", "tool", nil, time.Second, nil)
	require.Error(t, err)
	require.Equal(t, errs.KindProviderReportedErr, errs.KindOf(err))
	require.Equal(t, int32(1), atomic.LoadInt32(&ft.calls))
}

func TestCallRespectsDeadline(t *testing.T) {
	ft := &fakeTransport{failN: 100}
	c := New(ft, RetryPolicy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second})

	_, err := c.Call(context.Background(), "ep", "tool", nil, 10*time.Millisecond, nil)
	require.Error(t, err)
	require.Equal(t, errs.KindTimeout, errs.KindOf(err))
}

// blockingTransport blocks until its ctx is done, the way a real HTTP
// transport blocks on an in-flight request until its context cancels it.
type blockingTransport struct{}

func (b *blockingTransport) Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error) {
	<-ctx.Done()
	return nil, errs.New("fake", "call", errs.KindTransportFailure, "request aborted", ctx.Err())
}

type fakeToken struct {
	done chan struct{}
}

func (f *fakeToken) Done() <-chan struct{} { return f.done }

func TestCallAbortsInFlightTransportOnCancel(t *testing.T) {
	c := New(&blockingTransport{}, DefaultRetryPolicy)
	token := &fakeToken{done: make(chan struct{})}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "ep", "tool", nil, 0, token)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	close(token.done)

	select {
	case err := <-errCh:
		require.Error(t, err)
		require.Equal(t, errs.KindCancelled, errs.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("Call did not abort the blocked transport call after cancellation")
	}
}
