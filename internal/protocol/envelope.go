package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 최상위 타입 태그 ("t") 값.
const (
	TagControl = "c"
	TagData    = "d"
)

// control 프레임의 하위 타입 ("d.t") 값.
const (
	ControlRedirect  = "r"
	ControlHandshake = "h"
)

// data 프레임의 action ("d.a") 값.
const (
	ActionQuery = "q" // 경로 조회 요청
	ActionStats = "s" // 클라이언트 SDK 통계 보고
	ActionData  = "d" // 서버가 밀어주는 데이터 (응답이 아닌 push)
)

// StatusOK 는 상관 응답 body 의 "s" 필드가 성공을 나타낼 때의 값입니다.
const StatusOK = "ok"

var (
	// ErrMalformedFrame 은 프레임 텍스트가 구조화된 envelope 로 파싱되지 않을 때 반환됩니다.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnrecognizedFrameKind 는 최상위 태그가 control/data 가 아닌 경우를 나타냅니다.
	ErrUnrecognizedFrameKind = errors.New("protocol: unrecognized frame kind")
)

// Kind 는 디코딩된 프레임의 종류입니다.
type Kind int

const (
	KindUnknown Kind = iota
	KindControl
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Frame 은 완전히 조립된 하나의 수신 메시지입니다.
// Kind 에 따라 Control 또는 Data 중 하나만 채워집니다.
type Frame struct {
	Kind    Kind
	Tag     string // 수신한 최상위 "t" 값 (KindUnknown 일 때 로그용)
	Control *Control
	Data    *Data
	Raw     json.RawMessage // 조립 후 파싱한 원문
}

// Control 은 {t:"c", d:{t:<subtype>, d:<value>}} 의 안쪽 객체입니다.
type Control struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"d,omitempty"`
}

// RedirectHost 는 redirect control 이고 새 호스트가 비어 있지 않을 때 호스트를 반환합니다.
func (c *Control) RedirectHost() (string, bool) {
	if c == nil || c.Type != ControlRedirect || len(c.Value) == 0 {
		return "", false
	}
	var host string
	if err := json.Unmarshal(c.Value, &host); err != nil {
		return "", false
	}
	host = strings.TrimSpace(host)
	return host, host != ""
}

// Handshake 는 연결 직후 서버가 보내는 control 헤더 값입니다.
type Handshake struct {
	Timestamp int64  `json:"ts"`
	Version   string `json:"v"`
	Host      string `json:"h"`
	SessionID string `json:"s"`
}

// Handshake 는 handshake control 일 때 그 내용을 반환합니다.
func (c *Control) Handshake() (Handshake, bool) {
	if c == nil || c.Type != ControlHandshake || len(c.Value) == 0 {
		return Handshake{}, false
	}
	var hs Handshake
	if err := json.Unmarshal(c.Value, &hs); err != nil {
		return Handshake{}, false
	}
	return hs, true
}

// Data 는 {t:"d", d:{r, a, b}} 의 안쪽 객체입니다.
// r 이 없으면 서버가 밀어준 비요청(unsolicited) 데이터입니다.
// r 은 원문 그대로 보관하며, 부호 없는 정수가 아니면 상관 id 가 없는 것으로 봅니다.
type Data struct {
	RequestID json.RawMessage `json:"r,omitempty"`
	Action    string          `json:"a,omitempty"`
	Body      json.RawMessage `json:"b,omitempty"`
}

// CorrelationID 는 envelope 에 실린 요청 id 를 반환합니다.
func (d *Data) CorrelationID() (uint64, bool) {
	if d == nil || len(d.RequestID) == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(string(d.RequestID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// DecodeBody 는 "b" 객체를 Body 로 디코딩합니다. body 가 없으면 빈 Body 를 반환합니다.
func (d *Data) DecodeBody() (Body, error) {
	var b Body
	if d == nil || len(d.Body) == 0 || string(d.Body) == "null" {
		return b, nil
	}
	if err := json.Unmarshal(d.Body, &b); err != nil {
		return Body{}, fmt.Errorf("%w: body: %v", ErrMalformedFrame, err)
	}
	return b, nil
}

// Body 는 요청/응답 body 에서 이 클라이언트가 사용하는 필드입니다.
//   - p: 조회 경로 (서버 push 에서는 선행 "/" 없이 옴)
//   - h: 해시 (요청 시 빈 문자열)
//   - s: 상관 응답의 상태 ("ok" / "fail" 등)
//   - d: 실제 데이터
type Body struct {
	Path   string          `json:"p,omitempty"`
	Hash   *string         `json:"h,omitempty"`
	Status string          `json:"s,omitempty"`
	Data   json.RawMessage `json:"d,omitempty"`
}

// QueryBody 는 action "q" 요청 body 입니다. h 는 빈 문자열이라도 항상 직렬화됩니다.
type QueryBody struct {
	Path string `json:"p"`
	Hash string `json:"h"`
}

// StatsBody 는 action "s" 요청 body 입니다.
type StatsBody struct {
	Counters map[string]int `json:"c"`
}

// Request 는 송신할 data 요청입니다.
type Request struct {
	ID     uint64
	Action string
	Body   any
}

// NormalizePath 는 서버 push 와 비교할 수 있도록 경로의 선행/후행 "/" 를 제거합니다.
func NormalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}
