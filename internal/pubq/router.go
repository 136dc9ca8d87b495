package pubq

import (
	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/observability"
	"github.com/dalbodeule/pubq-gate/internal/protocol"
)

// route 는 조립이 끝난 프레임 하나를 분류해 전달합니다.
//   - control/redirect: 새 호스트로 재연결 (true 를 반환해 이전 연결의 reader 를 멈춤)
//   - control/handshake: 세션 정보 기록
//   - 그 밖의 control: inbox
//   - data: 같은 id 의 대기 요청이 있으면 해소, 없으면 inbox
//   - 알 수 없는 태그: 로그 후 버림
func (c *Client) route(gen uint64, frame protocol.Frame) bool {
	observability.FramesTotal.WithLabelValues(frame.Kind.String()).Inc()

	switch frame.Kind {
	case protocol.KindControl:
		if host, ok := frame.Control.RedirectHost(); ok {
			c.followRedirect(gen, host)
			return true
		}
		if hs, ok := frame.Control.Handshake(); ok {
			c.acceptHandshake(gen, hs)
			return false
		}
		c.inbox.Push(frame)

	case protocol.KindData:
		if id, ok := frame.Data.CorrelationID(); ok && c.resolve(id, frame) {
			return false
		}
		c.inbox.Push(frame)

	default:
		c.logger.Warn("dropping frame", logging.Fields{
			"error": protocol.ErrUnrecognizedFrameKind.Error(),
			"tag":   frame.Tag,
		})
	}
	return false
}
