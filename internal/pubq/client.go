package pubq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/observability"
	"github.com/dalbodeule/pubq-gate/internal/protocol"
	"github.com/dalbodeule/pubq-gate/internal/transport"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultRequestTimeout = 5 * time.Second
)

// State 는 현재 세션의 연결 상태입니다.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Options 는 Client 생성 옵션입니다.
type Options struct {
	Endpoint transport.Endpoint
	Dialer   transport.Dialer   // nil 이면 WebsocketDialer
	Codec    protocol.WireCodec // nil 이면 protocol.DefaultCodec
	Logger   logging.Logger     // nil 이면 출력 없음

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// WaitHandshake 가 true 이면 Connect 는 서버 handshake control 프레임을 받을 때까지 기다립니다.
	WaitHandshake bool
}

// SessionInfo 는 현재 연결에 대해 알려진 정보입니다.
type SessionInfo struct {
	Endpoint    string
	ServerHost  string
	SessionID   string
	Version     string
	ServerTime  time.Time
	ConnectedAt time.Time
}

type result struct {
	frame protocol.Frame
	err   error
}

// attempt 는 연결 하나가 handshake 를 받기까지의 상태입니다.
// handshake 전에 redirect 되면 next 로 다음 attempt 가 이어지고,
// 실패하거나 밀려나면 err 가 정해집니다. 어느 쪽이든 moved 가 닫힙니다.
type attempt struct {
	gen       uint64
	endpoint  string
	ready     chan struct{}
	moved     chan struct{}
	next      *attempt
	err       error
	handshook bool
	settled   bool
}

func newAttempt(gen uint64, endpoint string) *attempt {
	return &attempt{
		gen:      gen,
		endpoint: endpoint,
		ready:    make(chan struct{}),
		moved:    make(chan struct{}),
	}
}

// settle 은 c.mu 를 잡은 상태에서 호출합니다. 두 번째 호출부터는 무시됩니다.
func (a *attempt) settle(next *attempt, err error) {
	if a == nil || a.settled {
		return
	}
	a.settled = true
	a.next = next
	a.err = err
	close(a.moved)
}

type pendingRequest struct {
	action string
	done   chan result // cap 1, 최대 한 번만 전달
}

// Client 는 하나의 실시간 DB 소켓 위에서 요청/응답 상관, 비요청 프레임 inbox,
// 서버 redirect 를 처리합니다.
//
// 연결 수명 동안 reader goroutine 하나가 Reassembler -> Router 로 프레임을 넘기며,
// 연결/카운터/대기 요청 상태는 mu 로 보호됩니다. inbox 는 자체 락을 가집니다.
type Client struct {
	id     string
	opts   Options
	codec  protocol.WireCodec
	dialer transport.Dialer
	logger logging.Logger
	inbox  *Inbox

	mu       sync.Mutex
	endpoint transport.Endpoint
	conn     transport.Conn
	gen      uint64
	state    State
	nextID   uint64
	pending  map[uint64]*pendingRequest
	session  SessionInfo
	attempt  *attempt
}

// New 는 연결되지 않은 Client 를 만듭니다. Connect 를 호출해야 사용할 수 있습니다.
func New(opts Options) *Client {
	if opts.Codec == nil {
		opts.Codec = protocol.DefaultCodec
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.WebsocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	id := uuid.NewString()
	return &Client{
		id:       id,
		opts:     opts,
		codec:    opts.Codec,
		dialer:   opts.Dialer,
		logger:   opts.Logger.With(logging.Fields{"component": "pubq_client", "client_id": id}),
		inbox:    NewInbox(),
		endpoint: opts.Endpoint,
		pending:  make(map[uint64]*pendingRequest),
	}
}

// ID 는 로그 상관용 클라이언트 인스턴스 id 입니다.
func (c *Client) ID() string { return c.id }

// Inbox 는 비요청 프레임 큐를 반환합니다.
func (c *Client) Inbox() *Inbox { return c.inbox }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Endpoint() transport.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Client) Session() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// PendingCount 는 응답을 기다리는 요청 수입니다.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Connect 는 현재 endpoint 로 새 연결을 엽니다. 이미 열린 연결이 있으면 닫고 교체합니다.
// 대기 중인 요청과 inbox 는 유지되며, 요청 id 카운터는 1 로 돌아갑니다.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, c.Endpoint(), "initial", nil)
}

// ConnectTo 는 endpoint 를 바꾼 뒤 Connect 합니다.
func (c *Client) ConnectTo(ctx context.Context, ep transport.Endpoint) error {
	return c.connect(ctx, ep, "initial", nil)
}

// connect 는 ep 로 새 연결을 엽니다. from 은 redirect 로 이어지는 이전 attempt 이며,
// 그 사이 Close 나 다른 Connect 가 끼어들었으면 연결하지 않고 errSuperseded 를 반환합니다.
func (c *Client) connect(ctx context.Context, ep transport.Endpoint, reason string, from *attempt) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	url := ep.URL()

	c.mu.Lock()
	if from != nil && (c.gen != from.gen || c.attempt != from) {
		c.mu.Unlock()
		return &ConnectionError{Endpoint: url, Err: errSuperseded}
	}
	old := c.conn
	c.gen++
	gen := c.gen
	at := newAttempt(gen, url)
	if prev := c.attempt; prev != nil {
		if prev == from {
			prev.settle(at, nil)
		} else {
			prev.settle(nil, &ConnectionError{Endpoint: prev.endpoint, Err: errSuperseded})
		}
	}
	c.attempt = at
	c.conn = nil
	c.state = StateConnecting
	c.endpoint = ep
	c.session = SessionInfo{Endpoint: url}
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	log := c.logger.With(logging.Fields{"endpoint": url, "reason": reason})
	log.Debug("connecting", nil)

	conn, err := c.dialer.Dial(ctx, url)
	if err != nil {
		cerr := &ConnectionError{Endpoint: url, Err: err}
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateClosed
		}
		at.settle(nil, cerr)
		c.mu.Unlock()
		observability.ConnectsTotal.WithLabelValues(reason, "failure").Inc()
		log.Warn("connect failed", logging.Fields{"error": err.Error()})
		return cerr
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return &ConnectionError{Endpoint: url, Err: errSuperseded}
	}
	c.conn = conn
	c.state = StateOpen
	c.nextID = 1
	c.session.ConnectedAt = time.Now()
	c.mu.Unlock()

	go c.readLoop(gen, conn)

	if c.opts.WaitHandshake {
		if err := c.awaitHandshake(ctx, at); err != nil {
			if errors.Is(err, errSuperseded) {
				return err
			}
			observability.ConnectsTotal.WithLabelValues(reason, "failure").Inc()
			log.Warn("handshake not received", logging.Fields{"error": err.Error()})
			return err
		}
	}

	observability.ConnectsTotal.WithLabelValues(reason, "success").Inc()
	log.Info("connected", nil)
	return nil
}

// awaitHandshake 는 at 이 handshake 를 받을 때까지 기다립니다.
// 그 전에 redirect 되면 이어진 attempt 를 따라가므로, 결과는 마지막 연결의 handshake 입니다.
func (c *Client) awaitHandshake(ctx context.Context, at *attempt) error {
	for {
		select {
		case <-at.ready:
			return nil
		default:
		}

		select {
		case <-at.ready:
			return nil
		case <-at.moved:
			if at.next == nil {
				return at.err
			}
			at = at.next
		case <-ctx.Done():
			err := &ConnectionError{Endpoint: at.endpoint, Err: fmt.Errorf("waiting for handshake: %w", ctx.Err())}
			c.mu.Lock()
			at.settle(nil, err)
			c.mu.Unlock()
			c.dropConn(at.gen)
			return err
		}
	}
}

// dropConn 은 gen 이 여전히 현재 연결일 때만 연결을 닫고 상태를 Closed 로 바꿉니다.
func (c *Client) dropConn(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.gen++
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send 는 직렬화된 프레임을 현재 연결에 씁니다.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteText(text)
}

// Close 는 현재 연결을 닫고, 대기 중인 요청을 ErrClosed 로 끝냅니다. 여러 번 호출해도 안전합니다.
// Close 이후에도 Connect 로 다시 연결할 수 있습니다.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.gen++
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	if at := c.attempt; at != nil {
		at.settle(nil, &ConnectionError{Endpoint: at.endpoint, Err: ErrClosed})
	}
	c.mu.Unlock()

	for _, p := range pending {
		p.done <- result{err: ErrClosed}
	}

	if conn == nil {
		return nil
	}
	c.logger.Info("connection closed", nil)
	return conn.Close()
}

// Submit 은 다음 요청 id 로 {t:"d", d:{r, a, b}} 요청을 보내고 같은 id 의 응답을 기다립니다.
// timeout 이 0 이하이면 Options.RequestTimeout 을 사용합니다.
// 제한 시간이 지나면 ErrTimeout 을 반환하며, 그 뒤에 도착한 응답은 inbox 로 갑니다.
func (c *Client) Submit(ctx context.Context, action string, body any, timeout time.Duration) (protocol.Frame, error) {
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return protocol.Frame{}, ErrNotConnected
	}
	id := c.allocateIDLocked()
	p := &pendingRequest{action: action, done: make(chan result, 1)}
	c.pending[id] = p
	c.mu.Unlock()

	started := time.Now()
	text, err := c.codec.EncodeRequest(protocol.Request{ID: id, Action: action, Body: body})
	if err != nil {
		c.forget(id)
		return protocol.Frame{}, err
	}
	if err := c.Send(text); err != nil {
		c.forget(id)
		observability.RequestsTotal.WithLabelValues(action, "send_error").Inc()
		if errors.Is(err, ErrNotConnected) {
			return protocol.Frame{}, err
		}
		return protocol.Frame{}, fmt.Errorf("pubq: send request %d: %w", id, err)
	}

	log := c.logger.With(logging.Fields{"request_id": id, "action": action})
	log.Debug("request sent", nil)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res result
	select {
	case res = <-p.done:
	case <-timer.C:
		if c.forget(id) {
			observability.RequestsTotal.WithLabelValues(action, "timeout").Inc()
			log.Warn("request timed out", logging.Fields{"timeout_ms": timeout.Milliseconds()})
			return protocol.Frame{}, fmt.Errorf("%w: request %d (%s) after %s", ErrTimeout, id, action, timeout)
		}
		res = <-p.done
	case <-ctx.Done():
		if c.forget(id) {
			observability.RequestsTotal.WithLabelValues(action, "canceled").Inc()
			return protocol.Frame{}, ctx.Err()
		}
		res = <-p.done
	}

	if res.err != nil {
		observability.RequestsTotal.WithLabelValues(action, "closed").Inc()
		return protocol.Frame{}, res.err
	}
	observability.RequestsTotal.WithLabelValues(action, "ok").Inc()
	observability.RequestDurationSeconds.WithLabelValues(action).Observe(time.Since(started).Seconds())
	log.Debug("request resolved", logging.Fields{"elapsed_ms": time.Since(started).Milliseconds()})
	return res.frame, nil
}

// allocateIDLocked 는 카운터에서 다음 id 를 꺼냅니다.
// redirect 로 카운터가 1 로 돌아간 뒤에도 아직 대기 중인 id 는 건너뜁니다.
func (c *Client) allocateIDLocked() uint64 {
	for {
		id := c.nextID
		c.nextID++
		if _, busy := c.pending[id]; !busy {
			return id
		}
	}
}

// forget 은 대기 요청을 제거합니다. 이미 응답으로 해소되었다면 false 입니다.
func (c *Client) forget(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// resolve 는 id 의 대기 요청을 frame 으로 해소합니다. 대기 요청이 없으면 false 입니다.
func (c *Client) resolve(id uint64, frame protocol.Frame) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- result{frame: frame}
	return true
}

// failPending 은 모든 대기 요청을 err 로 끝냅니다.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()
	for _, p := range pending {
		p.done <- result{err: err}
	}
}

func (c *Client) readLoop(gen uint64, conn transport.Conn) {
	reasm := protocol.NewReassembler(c.codec)
	for {
		raw, err := conn.ReadText()
		if err != nil {
			c.connLost(gen, err)
			return
		}

		wasAssembling, _ := reasm.Pending()
		frame, ok, err := reasm.Feed(raw)
		if err != nil {
			observability.FramesTotal.WithLabelValues("malformed").Inc()
			c.logger.Warn("dropping malformed frame", logging.Fields{
				"error": err.Error(),
				"size":  len(raw),
			})
			continue
		}
		if !ok {
			continue
		}
		if wasAssembling {
			observability.ChunkedFramesTotal.Inc()
		}
		if stop := c.route(gen, frame); stop {
			return
		}
	}
}

func (c *Client) connLost(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateClosed
	if at := c.attempt; at != nil && !at.handshook {
		at.settle(nil, &ConnectionError{Endpoint: at.endpoint, Err: err})
	}
	c.mu.Unlock()
	c.logger.Warn("connection lost", logging.Fields{"error": err.Error()})
}

func (c *Client) acceptHandshake(gen uint64, hs protocol.Handshake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.attempt
	if c.gen != gen || at == nil || at.gen != gen || at.handshook || at.settled {
		return
	}
	at.handshook = true
	c.session.ServerHost = hs.Host
	c.session.SessionID = hs.SessionID
	c.session.Version = hs.Version
	if hs.Timestamp > 0 {
		c.session.ServerTime = time.UnixMilli(hs.Timestamp)
	}
	close(at.ready)
	c.logger.Debug("handshake received", logging.Fields{
		"server_host": hs.Host,
		"session_id":  hs.SessionID,
		"version":     hs.Version,
	})
}

// followRedirect 는 현재 연결을 닫고 새 호스트로 다시 연결합니다.
// 대기 요청과 inbox 는 유지되고 요청 id 카운터만 1 로 돌아갑니다.
// 재연결에 실패하면 대기 요청을 ConnectionError 로 끝냅니다.
func (c *Client) followRedirect(gen uint64, host string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	ep := c.endpoint
	from := c.attempt
	c.mu.Unlock()

	observability.RedirectsTotal.Inc()
	c.logger.Info("server redirect", logging.Fields{"from": ep.Host, "to": host})

	next, err := ep.WithHost(host)
	if err != nil {
		cerr := &ConnectionError{Endpoint: host, Err: err}
		c.mu.Lock()
		if c.attempt == from {
			from.settle(nil, cerr)
		}
		c.mu.Unlock()
		c.dropConn(gen)
		c.failPending(cerr)
		c.logger.Error("invalid redirect host", logging.Fields{"host": host, "error": err.Error()})
		return
	}

	if err := c.connect(context.Background(), next, "redirect", from); err != nil {
		if errors.Is(err, errSuperseded) {
			return
		}
		c.failPending(err)
		c.logger.Error("reconnect after redirect failed", logging.Fields{"error": err.Error()})
	}
}
