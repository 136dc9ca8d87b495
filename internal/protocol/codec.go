package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WireCodec 는 텍스트 프레임과 envelope 사이의 직렬화/역직렬화를 추상화합니다.
// 전송 계층은 문자열 프레임만 다루고, 구조 해석은 이 인터페이스에 맡깁니다.
type WireCodec interface {
	EncodeRequest(req Request) (string, error)
	DecodeFrame(text string) (Frame, error)
}

// jsonCodec 은 {t, d} JSON envelope 기반 WireCodec 구현입니다.
type jsonCodec struct{}

// DefaultCodec 은 현재 런타임에서 사용하는 기본 WireCodec 입니다.
var DefaultCodec WireCodec = jsonCodec{}

type outboundEnvelope struct {
	T string      `json:"t"`
	D requestData `json:"d"`
}

// requestData 의 필드 순서가 곧 wire 상의 키 순서입니다 (r, a, b).
type requestData struct {
	R uint64 `json:"r"`
	A string `json:"a"`
	B any    `json:"b"`
}

type inboundEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

// EncodeRequest 는 요청을 {t:"d", d:{r, a, b}} 형태의 JSON 문자열로 인코딩합니다.
func (jsonCodec) EncodeRequest(req Request) (string, error) {
	if req.ID == 0 {
		return "", fmt.Errorf("protocol: request id must be positive")
	}
	if req.Action == "" {
		return "", fmt.Errorf("protocol: request action is empty")
	}
	body := req.Body
	if body == nil {
		body = struct{}{}
	}
	b, err := json.Marshal(outboundEnvelope{
		T: TagData,
		D: requestData{R: req.ID, A: req.Action, B: body},
	})
	if err != nil {
		return "", fmt.Errorf("protocol: encode request: %w", err)
	}
	return string(b), nil
}

// DecodeFrame 은 하나의 완전한 프레임 텍스트를 Frame 으로 디코딩합니다.
// 최상위 태그가 c/d 가 아니면 에러 없이 KindUnknown 프레임을 반환하며,
// 처리 여부는 호출자(라우터)가 결정합니다.
func (jsonCodec) DecodeFrame(text string) (Frame, error) {
	raw := bytes.TrimSpace([]byte(text))
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	frame := Frame{Tag: env.T, Raw: json.RawMessage(raw)}
	switch env.T {
	case TagControl:
		var c Control
		if err := unmarshalInner(env.D, &c); err != nil {
			return Frame{}, fmt.Errorf("%w: control payload: %v", ErrMalformedFrame, err)
		}
		frame.Kind = KindControl
		frame.Control = &c
	case TagData:
		var d Data
		if err := unmarshalInner(env.D, &d); err != nil {
			return Frame{}, fmt.Errorf("%w: data payload: %v", ErrMalformedFrame, err)
		}
		frame.Kind = KindData
		frame.Data = &d
	default:
		frame.Kind = KindUnknown
	}
	return frame, nil
}

// unmarshalInner 는 비어 있거나 null 인 "d" 를 빈 객체로 취급합니다.
func unmarshalInner(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
