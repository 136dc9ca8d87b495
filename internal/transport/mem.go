package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
)

// MemNetwork 는 프로세스 내부에서 동작하는 Dialer 입니다. 테스트에서 가짜 서버를 붙일 때 사용합니다.
// Listen 으로 호스트를 등록하면, 해당 호스트로의 Dial 마다 서버 측 MemConn 이 accept 채널로 전달됩니다.
type MemNetwork struct {
	mu        sync.Mutex
	listeners map[string]chan *MemConn
	dialed    []string
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{listeners: make(map[string]chan *MemConn)}
}

// Listen 은 host 로 들어오는 연결의 서버 측 끝을 받는 채널을 반환합니다.
func (n *MemNetwork) Listen(host string) <-chan *MemConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.listeners[host]
	if !ok {
		ch = make(chan *MemConn, 8)
		n.listeners[host] = ch
	}
	return ch
}

// Dial 은 endpoint URL 의 host 에 등록된 listener 로 새 파이프를 연결합니다.
func (n *MemNetwork) Dial(ctx context.Context, endpoint string) (Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("mem dial %s: %w", endpoint, err)
	}

	n.mu.Lock()
	ch, ok := n.listeners[u.Host]
	n.dialed = append(n.dialed, endpoint)
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mem dial %s: no listener for host %q", endpoint, u.Host)
	}

	client, server := MemPipe()
	select {
	case ch <- server:
		return client, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dialed 는 지금까지 Dial 에 전달된 endpoint 목록을 순서대로 반환합니다.
func (n *MemNetwork) Dialed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.dialed))
	copy(out, n.dialed)
	return out
}

// MemConn 은 MemPipe 로 만든 연결의 한쪽 끝입니다.
type MemConn struct {
	in   chan string
	peer *MemConn
	pipe *memPipeState
}

type memPipeState struct {
	once sync.Once
	done chan struct{}
}

const memQueueSize = 128

// MemPipe 는 서로 연결된 두 MemConn 을 만듭니다. 어느 쪽이든 Close 하면 양쪽 모두 닫힙니다.
func MemPipe() (*MemConn, *MemConn) {
	st := &memPipeState{done: make(chan struct{})}
	a := &MemConn{in: make(chan string, memQueueSize), pipe: st}
	b := &MemConn{in: make(chan string, memQueueSize), pipe: st}
	a.peer, b.peer = b, a
	return a, b
}

// ReadText 는 닫히기 전에 이미 도착한 프레임을 먼저 모두 돌려준 뒤 io.EOF 를 반환합니다.
func (c *MemConn) ReadText() (string, error) {
	select {
	case s := <-c.in:
		return s, nil
	default:
	}
	select {
	case s := <-c.in:
		return s, nil
	case <-c.pipe.done:
		select {
		case s := <-c.in:
			return s, nil
		default:
			return "", io.EOF
		}
	}
}

func (c *MemConn) WriteText(text string) error {
	select {
	case <-c.pipe.done:
		return ErrClosed
	default:
	}
	select {
	case c.peer.in <- text:
		return nil
	case <-c.pipe.done:
		return ErrClosed
	}
}

func (c *MemConn) Close() error {
	c.pipe.once.Do(func() { close(c.pipe.done) })
	return nil
}

// Closed 는 파이프가 닫히면 닫히는 채널을 반환합니다.
func (c *MemConn) Closed() <-chan struct{} {
	return c.pipe.done
}
