package protocol

import (
	"strconv"
	"strings"
)

// Reassembler 는 전송 계층이 하나의 payload 를 여러 텍스트 조각으로 나눠 보내는
// chunk framing 을 숨깁니다.
//
//	"3"            -> 이후 3개의 조각이 하나의 메시지를 이룸 (이 프레임 자체는 payload 없음)
//	"{\"t\":"      -> 조각 1
//	"\"d\",\"d\":{}" -> 조각 2
//	"}"            -> 조각 3: 이어 붙인 결과를 파싱해 Frame 하나를 방출
//
// 알려진 한계: 프레임 전체가 양의 정수로 파싱되면 항상 chunk 헤더로 해석합니다.
// 정상 payload 가 우연히 숫자만으로 이루어진 경우와 구분할 방법이 프로토콜에 없으므로
// 그런 payload 는 뒤따르는 N 개의 프레임을 삼키게 됩니다. 0 과 음수는 헤더가 아닙니다.
//
// 연결(세션) 하나에 하나의 Reassembler 를 사용하며, 동시 호출에 안전하지 않습니다.
type Reassembler struct {
	codec     WireCodec
	active    bool
	remaining uint64
	fragments []string
}

// maxPrealloc 은 선언된 조각 수와 무관하게 미리 잡아 두는 슬라이스 용량의 상한입니다.
const maxPrealloc = 64

// NewReassembler 는 codec 으로 조립 결과를 파싱하는 Reassembler 를 생성합니다.
func NewReassembler(codec WireCodec) *Reassembler {
	if codec == nil {
		codec = DefaultCodec
	}
	return &Reassembler{codec: codec}
}

// Feed 는 수신한 원시 텍스트 프레임 하나를 처리합니다.
// 완전한 프레임이 만들어졌을 때만 ok 가 true 입니다.
// 파싱 실패 시 에러를 반환하고, 조립 상태는 이미 비워진 상태입니다.
func (r *Reassembler) Feed(raw string) (frame Frame, ok bool, err error) {
	if r.active {
		r.fragments = append(r.fragments, raw)
		r.remaining--
		if r.remaining > 0 {
			return Frame{}, false, nil
		}
		text := strings.Join(r.fragments, "")
		r.reset()
		frame, err = r.codec.DecodeFrame(text)
		if err != nil {
			return Frame{}, false, err
		}
		return frame, true, nil
	}

	if n, isHeader := parseChunkHeader(raw); isHeader {
		r.active = true
		r.remaining = n
		r.fragments = make([]string, 0, min(n, maxPrealloc))
		return Frame{}, false, nil
	}

	frame, err = r.codec.DecodeFrame(raw)
	if err != nil {
		return Frame{}, false, err
	}
	return frame, true, nil
}

// Pending 은 조립 중인지 여부와 남은 조각 수를 반환합니다.
func (r *Reassembler) Pending() (active bool, remaining uint64) {
	return r.active, r.remaining
}

func (r *Reassembler) reset() {
	r.active = false
	r.remaining = 0
	r.fragments = nil
}

func parseChunkHeader(raw string) (uint64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}
