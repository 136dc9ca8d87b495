package pubq

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dalbodeule/pubq-gate/internal/observability"
	"github.com/dalbodeule/pubq-gate/internal/protocol"
)

// Inbox 는 어떤 대기 요청과도 매칭되지 않은 프레임을 도착 순서대로 보관하는 FIFO 큐입니다.
//
// 동시 대기자 정책 (ko): 여러 goroutine 이 동시에 Poll 할 수 있으며, 대기자는 FIFO 로 줄을 섭니다.
// 새 프레임은 그 프레임을 받아들이는 가장 오래된 대기자에게 바로 전달되고,
// 받아들이는 대기자가 없을 때만 큐 끝에 추가됩니다.
// Waiter policy (en): concurrent pollers queue FIFO; a pushed frame goes to the
// oldest waiter that accepts it, otherwise to the tail of the queue.
type Inbox struct {
	mu      sync.Mutex
	seq     uint64 // 마지막으로 Push 된 프레임의 도착 번호
	frames  []inboxEntry
	waiters *list.List // *inboxWaiter
}

type inboxEntry struct {
	seq   uint64
	frame protocol.Frame
}

type inboxWaiter struct {
	after uint64 // 이 번호 이하로 도착한 프레임은 받지 않음
	match func(protocol.Frame) bool
	ch    chan protocol.Frame
}

func (w *inboxWaiter) accepts(e inboxEntry) bool {
	return e.seq > w.after && (w.match == nil || w.match(e.frame))
}

func NewInbox() *Inbox {
	return &Inbox{waiters: list.New()}
}

// Push 는 프레임을 대기자에게 넘기거나 큐 끝에 추가합니다.
func (q *Inbox) Push(f protocol.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	entry := inboxEntry{seq: q.seq, frame: f}
	for e := q.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*inboxWaiter)
		if w.accepts(entry) {
			q.waiters.Remove(e)
			w.ch <- f
			return
		}
	}
	q.frames = append(q.frames, entry)
	observability.InboxDepth.Set(float64(len(q.frames)))
}

// Mark 는 지금까지 Push 된 마지막 프레임의 도착 번호입니다. PollMatchSince 와 함께 씁니다.
func (q *Inbox) Mark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

// HasMessages 는 큐가 비어 있지 않으면 true 입니다.
func (q *Inbox) HasMessages() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames) > 0
}

// Len 은 현재 큐 길이입니다.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Peek 은 head 를 제거하지 않고 반환합니다.
func (q *Inbox) Peek() (protocol.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return protocol.Frame{}, false
	}
	return q.frames[0].frame, true
}

// Poll 은 head 를 꺼내 반환합니다. 큐가 비어 있으면 새 프레임이 오거나
// timeout 이 지나거나 ctx 가 끝날 때까지 기다립니다.
// timeout 이 0 이하이면 ctx 만 대기 시간을 제한합니다.
func (q *Inbox) Poll(ctx context.Context, timeout time.Duration) (protocol.Frame, error) {
	return q.wait(ctx, 0, nil, timeout)
}

// PollMatch 는 match 를 만족하는 가장 앞쪽 프레임을 꺼냅니다.
// 만족하지 않는 프레임은 순서를 유지한 채 큐에 남습니다.
func (q *Inbox) PollMatch(ctx context.Context, match func(protocol.Frame) bool, timeout time.Duration) (protocol.Frame, error) {
	return q.wait(ctx, 0, match, timeout)
}

// PollMatchSince 는 PollMatch 와 같지만 도착 번호가 mark 보다 큰 프레임만 고릅니다.
// 그 이전에 들어온 프레임은 건드리지 않고 큐에 남습니다.
func (q *Inbox) PollMatchSince(ctx context.Context, mark uint64, match func(protocol.Frame) bool, timeout time.Duration) (protocol.Frame, error) {
	return q.wait(ctx, mark, match, timeout)
}

func (q *Inbox) wait(ctx context.Context, after uint64, match func(protocol.Frame) bool, timeout time.Duration) (protocol.Frame, error) {
	w := &inboxWaiter{after: after, match: match, ch: make(chan protocol.Frame, 1)}

	q.mu.Lock()
	for i, e := range q.frames {
		if w.accepts(e) {
			q.frames = append(q.frames[:i], q.frames[i+1:]...)
			observability.InboxDepth.Set(float64(len(q.frames)))
			q.mu.Unlock()
			return e.frame, nil
		}
	}
	elem := q.waiters.PushBack(w)
	q.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case f := <-w.ch:
		return f, nil
	case <-expired:
		return q.abandon(elem, w, ErrInboxTimeout)
	case <-ctx.Done():
		return q.abandon(elem, w, ctx.Err())
	}
}

// abandon 은 대기자를 줄에서 뺍니다. 그 사이에 이미 프레임을 넘겨받았다면 잃지 않도록 그 프레임을 반환합니다.
func (q *Inbox) abandon(elem *list.Element, w *inboxWaiter, cause error) (protocol.Frame, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case f := <-w.ch:
		return f, nil
	default:
	}
	q.waiters.Remove(elem)
	return protocol.Frame{}, cause
}

// waiting 은 현재 줄 서 있는 대기자 수입니다. (테스트용)
func (q *Inbox) waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}
