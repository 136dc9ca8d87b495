package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	closeGracePeriod        = time.Second
)

// WebsocketDialer 는 gorilla/websocket 기반 Dialer 구현입니다.
type WebsocketDialer struct {
	// HandshakeTimeout 은 websocket opening handshake 제한 시간입니다. (0 이면 10s)
	HandshakeTimeout time.Duration
	// WriteTimeout 은 프레임 하나를 쓰는 데 허용되는 시간입니다. (0 이면 5s)
	WriteTimeout time.Duration
	// Header 는 opening handshake 에 추가할 HTTP 헤더입니다. (예: User-Agent)
	Header http.Header
}

// Dial 은 endpoint 로 websocket 연결을 엽니다.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	hsTimeout := d.HandshakeTimeout
	if hsTimeout <= 0 {
		hsTimeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: hsTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	wt := d.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	return NewWebsocketConn(ws, wt), nil
}

// wsConn 은 *websocket.Conn 을 Conn 으로 감쌉니다.
// gorilla 는 동시 writer 를 허용하지 않으므로 쓰기는 writeMu 로 직렬화합니다.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewWebsocketConn 은 이미 연결된 websocket 을 Conn 으로 감쌉니다.
// 서버 측(Upgrader) 연결을 테스트에서 감쌀 때도 사용합니다.
func NewWebsocketConn(ws *websocket.Conn, writeTimeout time.Duration) Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// ReadText 는 다음 텍스트 프레임을 반환합니다. 바이너리 프레임은 건너뜁니다.
func (c *wsConn) ReadText() (string, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return "", ErrClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return "", err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

func (c *wsConn) WriteText(text string) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close 는 close 프레임을 보낸 뒤 소켓을 닫습니다. 여러 번 호출해도 안전합니다.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()

		if err := c.ws.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
