package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrClosed 는 이미 닫힌 연결에서 읽기/쓰기를 시도할 때 반환됩니다.
var ErrClosed = errors.New("transport: connection closed")

// ErrInvalidHost 는 endpoint 호스트가 비어 있거나 IDNA 규칙에 맞지 않을 때 반환됩니다.
var ErrInvalidHost = errors.New("transport: invalid host")

// Conn 은 텍스트 프레임 단위로 주고받는 하나의 살아 있는 연결을 추상화합니다.
//   - ReadText 는 하나의 goroutine 에서만 호출합니다.
//   - WriteText 와 Close 는 여러 goroutine 에서 호출해도 안전해야 합니다.
type Conn interface {
	ReadText() (string, error)
	WriteText(text string) error
	Close() error
}

// Dialer 는 endpoint URL 로 새 Conn 을 엽니다.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Endpoint 는 실시간 DB 소켓 주소의 구성 요소입니다.
// URL 형식: <scheme>://<host>/.ws?v=<version>&ns=<namespace>
type Endpoint struct {
	Scheme    string // 기본 "wss"
	Host      string // host 또는 host:port
	Version   string
	Namespace string
}

// URL 은 endpoint 를 접속 가능한 URL 문자열로 만듭니다.
func (e Endpoint) URL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "wss"
	}
	q := url.Values{}
	if e.Version != "" {
		q.Set("v", e.Version)
	}
	if e.Namespace != "" {
		q.Set("ns", e.Namespace)
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     e.Host,
		Path:     "/.ws",
		RawQuery: q.Encode(),
	}
	return u.String()
}

// WithHost 는 호스트만 바꾼 endpoint 를 반환합니다. (서버 redirect 처리용)
func (e Endpoint) WithHost(host string) (Endpoint, error) {
	h, err := NormalizeHost(host)
	if err != nil {
		return Endpoint{}, err
	}
	e.Host = h
	return e, nil
}

// NormalizeHost 는 host 또는 host:port 문자열을 검증하고 IDNA ASCII 형태로 바꿉니다.
// IP 주소는 그대로 통과시킵니다.
func NormalizeHost(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if strings.ContainsAny(raw, "/?#@ \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidHost, raw)
	}

	host, port := raw, ""
	if h, p, err := net.SplitHostPort(raw); err == nil {
		host, port = h, p
	}

	if ip := net.ParseIP(host); ip == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidHost, raw, err)
		}
		host = ascii
	}

	if port != "" {
		return net.JoinHostPort(host, port), nil
	}
	return host, nil
}
