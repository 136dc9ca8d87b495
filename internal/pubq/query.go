package pubq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dalbodeule/pubq-gate/internal/protocol"
)

const minPushWait = 10 * time.Millisecond

// Query 는 path 에 대한 "q" 요청을 보내고 그 데이터를 반환합니다.
//
// 서버는 상관 응답으로 상태({s:"ok"})만 돌려주고, 실제 데이터는
// {t:"d", d:{a:"d", b:{p, d}}} 형태의 비요청 프레임으로 밀어줍니다.
// 그 프레임은 요청을 보낸 뒤 도착했고 경로가 같은 것만 inbox 에서 꺼내며,
// 앞서 시간 초과된 조회의 늦은 push 나 다른 프레임의 순서는 건드리지 않습니다.
// 전체 대기 시간은 timeout 하나로 제한됩니다.
func (c *Client) Query(ctx context.Context, path string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	deadline := time.Now().Add(timeout)
	mark := c.inbox.Mark()

	resp, err := c.Submit(ctx, protocol.ActionQuery, protocol.QueryBody{Path: path}, timeout)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}

	want := protocol.NormalizePath(path)
	wait := max(time.Until(deadline), minPushWait)
	frame, err := c.inbox.PollMatchSince(ctx, mark, pushedDataFor(want), wait)
	if err != nil {
		if errors.Is(err, ErrInboxTimeout) {
			return nil, fmt.Errorf("%w: no data pushed for %s", ErrTimeout, path)
		}
		return nil, err
	}

	body, err := frame.Data.DecodeBody()
	if err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ReportStats 는 클라이언트 SDK 통계를 "s" 요청으로 보고합니다.
func (c *Client) ReportStats(ctx context.Context, counters map[string]int) error {
	if counters == nil {
		counters = map[string]int{}
	}
	resp, err := c.Submit(ctx, protocol.ActionStats, protocol.StatsBody{Counters: counters}, 0)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("report stats: %w", err)
	}
	return nil
}

func checkStatus(resp protocol.Frame) error {
	body, err := resp.Data.DecodeBody()
	if err != nil {
		return err
	}
	if body.Status != protocol.StatusOK {
		var detail string
		if len(body.Data) > 0 {
			_ = json.Unmarshal(body.Data, &detail)
		}
		if detail != "" {
			return fmt.Errorf("%w: status %q: %s", ErrRequestFailed, body.Status, detail)
		}
		return fmt.Errorf("%w: status %q", ErrRequestFailed, body.Status)
	}
	return nil
}

// pushedDataFor 는 path 에 대해 서버가 밀어준 data 프레임을 고르는 matcher 입니다.
func pushedDataFor(path string) func(protocol.Frame) bool {
	return func(f protocol.Frame) bool {
		if f.Kind != protocol.KindData || f.Data.Action != protocol.ActionData {
			return false
		}
		body, err := f.Data.DecodeBody()
		if err != nil {
			return false
		}
		return protocol.NormalizePath(body.Path) == path
	}
}
