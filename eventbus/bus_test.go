package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := New()
	ch := b.Open("exec-1")

	b.Publish(Event{Tag: TagIterationStart, ExecutionID: "exec-1", Iteration: 1})
	b.Publish(Event{Tag: TagAgentReasoning, ExecutionID: "exec-1", ReasoningText: "thinking"})
	b.PublishTerminal(Event{Tag: TagComplete, ExecutionID: "exec-1", Status: "completed"})

	var got []Tag
	for ev := range ch {
		got = append(got, ev.Tag)
	}

	require.Equal(t, []Tag{TagIterationStart, TagAgentReasoning, TagComplete}, got)
}

func TestPublishToUnopenedExecutionIsNoop(t *testing.T) {
	b := New()
	require.NotPanics(t, func() {
		b.Publish(Event{Tag: TagStatus, ExecutionID: "missing"})
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	ch := b.Open("exec-2")
	b.Close("exec-2")
	require.NotPanics(t, func() { b.Close("exec-2") })

	select {
	case _, open := <-ch:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestTerminalEventDeliveredBeforeClose(t *testing.T) {
	b := New()
	ch := b.Open("exec-3")
	b.PublishTerminal(Event{Tag: TagError, ExecutionID: "exec-3", Message: "boom"})

	ev, open := <-ch
	require.True(t, open)
	require.Equal(t, TagError, ev.Tag)

	_, open = <-ch
	require.False(t, open)
}
