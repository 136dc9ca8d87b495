package pubq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalbodeule/pubq-gate/internal/protocol"
)

func mustFrame(t *testing.T, raw string) protocol.Frame {
	t.Helper()
	f, err := protocol.DefaultCodec.DecodeFrame(raw)
	require.NoError(t, err)
	return f
}

func TestInboxPeekIsNonDestructive(t *testing.T) {
	q := NewInbox()
	assert.False(t, q.HasMessages())
	_, ok := q.Peek()
	assert.False(t, ok)

	first := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"a"}}}`)
	second := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"b"}}}`)
	q.Push(first)
	q.Push(second)

	for i := 0; i < 3; i++ {
		assert.True(t, q.HasMessages())
		head, ok := q.Peek()
		require.True(t, ok)
		assert.Equal(t, first, head)
	}
	assert.Equal(t, 2, q.Len())

	got, err := q.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = q.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.False(t, q.HasMessages())
}

func TestInboxPollBoundedWait(t *testing.T) {
	q := NewInbox()
	const timeout = 80 * time.Millisecond

	start := time.Now()
	_, err := q.Poll(context.Background(), timeout)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrInboxTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, time.Second)
	assert.Zero(t, q.waiting(), "expired waiter is removed")
	assert.False(t, q.HasMessages())
}

func TestInboxPollWakesOnPush(t *testing.T) {
	q := NewInbox()
	want := mustFrame(t, `{"t":"c","d":{"t":"x","d":1}}`)

	done := make(chan protocol.Frame, 1)
	go func() {
		f, err := q.Poll(context.Background(), 2*time.Second)
		if err == nil {
			done <- f
		}
	}()

	require.Eventually(t, func() bool { return q.waiting() == 1 }, time.Second, 5*time.Millisecond)
	q.Push(want)

	select {
	case got := <-done:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("poll was not woken by push")
	}
	assert.False(t, q.HasMessages(), "a frame handed to a waiter is not queued")
}

func TestInboxWaitersAreServedFIFO(t *testing.T) {
	q := NewInbox()
	results := make([]chan protocol.Frame, 2)

	for i := range results {
		results[i] = make(chan protocol.Frame, 1)
		ch := results[i]
		go func() {
			f, err := q.Poll(context.Background(), 2*time.Second)
			if err == nil {
				ch <- f
			}
		}()
		require.Eventually(t, func() bool { return q.waiting() == i+1 }, time.Second, 5*time.Millisecond)
	}

	a := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"a"}}}`)
	b := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"b"}}}`)
	q.Push(a)
	q.Push(b)

	assert.Equal(t, a, <-results[0])
	assert.Equal(t, b, <-results[1])
}

func TestInboxPollMatchKeepsOtherFramesInOrder(t *testing.T) {
	q := NewInbox()
	a := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"a"}}}`)
	b := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"b"}}}`)
	c := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"c"}}}`)
	q.Push(a)
	q.Push(b)
	q.Push(c)

	got, err := q.PollMatch(context.Background(), pushedDataFor("b"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	head, _ := q.Peek()
	assert.Equal(t, a, head)
	assert.Equal(t, 2, q.Len())

	_, err = q.PollMatch(context.Background(), pushedDataFor("missing"), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrInboxTimeout)
	assert.Equal(t, 2, q.Len())
}

func TestInboxPollHonorsContext(t *testing.T) {
	q := NewInbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Poll(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, q.waiting())
}

func TestInboxPollMatchSinceSkipsEarlierFrames(t *testing.T) {
	q := NewInbox()
	assert.Zero(t, q.Mark())

	stale := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"a","d":1}}}`)
	q.Push(stale)
	mark := q.Mark()
	assert.Equal(t, uint64(1), mark)

	_, err := q.PollMatchSince(context.Background(), mark, nil, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrInboxTimeout)
	assert.Equal(t, 0, q.waiting())

	fresh := mustFrame(t, `{"t":"d","d":{"a":"d","b":{"p":"a","d":2}}}`)
	go func() {
		assert.Eventually(t, func() bool { return q.waiting() == 1 }, time.Second, time.Millisecond)
		q.Push(fresh)
	}()
	got, err := q.PollMatchSince(context.Background(), mark, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, stale, head)
	assert.Equal(t, 1, q.Len())
}
