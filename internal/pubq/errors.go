package pubq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected 는 열린 연결이 없을 때 송신을 시도하면 반환됩니다.
	ErrNotConnected = errors.New("pubq: not connected")

	// ErrTimeout 은 제한 시간 안에 상관 응답이 오지 않았을 때 반환됩니다.
	ErrTimeout = errors.New("pubq: request timed out")

	// ErrInboxTimeout 은 Poll 대기 중 제한 시간이 지났을 때의 TimedOut 결과입니다.
	// 큐에는 아무 영향도 주지 않습니다.
	ErrInboxTimeout = errors.New("pubq: inbox poll timed out")

	// ErrClosed 는 클라이언트가 닫혀 대기 중이던 요청이 끝났을 때 반환됩니다.
	ErrClosed = errors.New("pubq: client closed")

	// ErrRequestFailed 는 상관 응답의 상태가 "ok" 가 아닐 때 반환됩니다.
	ErrRequestFailed = errors.New("pubq: request failed")

	errSuperseded = errors.New("pubq: connection superseded by a newer connect")
)

// ConnectionError 는 연결(또는 redirect 이후 재연결)을 열지 못했을 때 반환됩니다.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("pubq: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
