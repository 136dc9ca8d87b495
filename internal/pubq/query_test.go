package pubq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalbodeule/pubq-gate/internal/protocol"
)

func TestQueryReturnsPushedData(t *testing.T) {
	h := newHarness(t, nil)
	server := h.connect(t)

	type out struct {
		data json.RawMessage
		err  error
	}
	done := make(chan out, 1)
	go func() {
		data, err := h.client.Query(context.Background(), "/Clients/compassdk_dbhotspot/activeMenu/categories", time.Second)
		done <- out{data, err}
	}()

	req := recvRequest(t, server)
	assert.Equal(t, protocol.ActionQuery, req.Action)
	assert.JSONEq(t, `{"p":"/Clients/compassdk_dbhotspot/activeMenu/categories","h":""}`, string(req.Body))

	// 서버는 데이터를 먼저 밀어주고 상태 응답을 나중에 보낸다.
	require.NoError(t, server.WriteText(`{"t":"d","d":{"a":"d","b":{"p":"unrelated","d":0}}}`))
	require.NoError(t, server.WriteText(`{"t":"d","d":{"b":{"p":"Clients/compassdk_dbhotspot/activeMenu/categories","d":{"0":{"name":"Sculpture Garden"}}},"a":"d"}}`))
	reply(t, server, req.ID, `{}`)

	res := <-done
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"0":{"name":"Sculpture Garden"}}`, string(res.data))

	head, ok := h.client.Inbox().Peek()
	require.True(t, ok, "unrelated push stays queued")
	body, _ := head.Data.DecodeBody()
	assert.Equal(t, "unrelated", body.Path)
	assert.Equal(t, 1, h.client.Inbox().Len())
}

func TestQueryWaitsForLatePush(t *testing.T) {
	h := newHarness(t, nil)
	server := h.connect(t)

	done := make(chan json.RawMessage, 1)
	go func() {
		data, err := h.client.Query(context.Background(), "clientUnits", time.Second)
		if err == nil {
			done <- data
		}
	}()

	req := recvRequest(t, server)
	reply(t, server, req.ID, `{}`)
	require.NoError(t, server.WriteText(`{"t":"d","d":{"a":"d","b":{"p":"clientUnits","d":["x"]}}}`))

	select {
	case data := <-done:
		assert.JSONEq(t, `["x"]`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return")
	}
}

func TestQueryFailsOnNonOKStatus(t *testing.T) {
	h := newHarness(t, nil)
	server := h.connect(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.client.Query(context.Background(), "/secret", time.Second)
		errc <- err
	}()

	req := recvRequest(t, server)
	require.NoError(t, server.WriteText(`{"t":"d","d":{"r":1,"b":{"s":"permission_denied","d":"Permission denied"}}}`))
	require.Equal(t, uint64(1), req.ID)

	err := <-errc
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "permission_denied")
	assert.Contains(t, err.Error(), "Permission denied")
}

func TestQueryTimesOutWithoutPush(t *testing.T) {
	h := newHarness(t, nil)
	server := h.connect(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.client.Query(context.Background(), "/never", 100*time.Millisecond)
		errc <- err
	}()
	req := recvRequest(t, server)
	reply(t, server, req.ID, `{}`)

	assert.ErrorIs(t, <-errc, ErrTimeout)
}

func TestQueryIgnoresLatePushFromEarlierQuery(t *testing.T) {
	h := newHarness(t, nil)
	server := h.connect(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.client.Query(context.Background(), "/menu", 100*time.Millisecond)
		errc <- err
	}()
	req := recvRequest(t, server)
	reply(t, server, req.ID, `{}`)
	require.ErrorIs(t, <-errc, ErrTimeout)

	// 시간 초과된 첫 조회의 데이터가 늦게 도착해 inbox 에 쌓인다.
	require.NoError(t, server.WriteText(`{"t":"d","d":{"a":"d","b":{"p":"menu","d":"v1"}}}`))
	require.Eventually(t, func() bool { return h.client.Inbox().Len() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan json.RawMessage, 1)
	go func() {
		data, err := h.client.Query(context.Background(), "/menu", time.Second)
		if err == nil {
			done <- data
		}
	}()
	req = recvRequest(t, server)
	reply(t, server, req.ID, `{}`)
	require.NoError(t, server.WriteText(`{"t":"d","d":{"a":"d","b":{"p":"menu","d":"v2"}}}`))

	select {
	case data := <-done:
		assert.JSONEq(t, `"v2"`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("second query did not return")
	}

	head, ok := h.client.Inbox().Peek()
	require.True(t, ok, "late push stays queued")
	body, err := head.Data.DecodeBody()
	require.NoError(t, err)
	assert.JSONEq(t, `"v1"`, string(body.Data))
	assert.Equal(t, 1, h.client.Inbox().Len())
}

func TestReportStats(t *testing.T) {
	h := newHarness(t, nil)
	server := h.connect(t)

	errc := make(chan error, 1)
	go func() {
		errc <- h.client.ReportStats(context.Background(), map[string]int{"sdk.js.8-1-1": 1})
	}()

	req := recvRequest(t, server)
	assert.Equal(t, protocol.ActionStats, req.Action)
	assert.JSONEq(t, `{"c":{"sdk.js.8-1-1":1}}`, string(req.Body))
	reply(t, server, req.ID, `""`)

	require.NoError(t, <-errc)
}
