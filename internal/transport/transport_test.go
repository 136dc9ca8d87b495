package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	e := Endpoint{Host: "s-usc1a-nss-2040.firebaseio.com", Version: "5", Namespace: "pq-dev"}
	assert.Equal(t, "wss://s-usc1a-nss-2040.firebaseio.com/.ws?ns=pq-dev&v=5", e.URL())

	moved, err := e.WithHost("s-gke-usc1-nssi1-17.firebaseio.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://s-gke-usc1-nssi1-17.firebaseio.com/.ws?ns=pq-dev&v=5", moved.URL())
	assert.Equal(t, "s-usc1a-nss-2040.firebaseio.com", e.Host, "receiver endpoint is unchanged")
}

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"Example.COM":        "example.com",
		" example.com:8443 ": "example.com:8443",
		"127.0.0.1:9000":     "127.0.0.1:9000",
		"bücher.example":     "xn--bcher-kva.example",
	}
	for in, want := range cases {
		got, err := NormalizeHost(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "  ", "host/path", "user@host"} {
		_, err := NormalizeHost(bad)
		assert.ErrorIs(t, err, ErrInvalidHost, bad)
	}
}

func TestMemNetworkRoundTrip(t *testing.T) {
	n := NewMemNetwork()
	accept := n.Listen("a.example")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := n.Dial(ctx, Endpoint{Scheme: "ws", Host: "a.example", Version: "5"}.URL())
	require.NoError(t, err)
	server := <-accept

	require.NoError(t, client.WriteText("ping"))
	got, err := server.ReadText()
	require.NoError(t, err)
	assert.Equal(t, "ping", got)

	require.NoError(t, server.WriteText("pong"))
	require.NoError(t, server.Close())

	// 닫히기 전에 도착한 프레임은 그대로 읽힌다.
	got, err = client.ReadText()
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	_, err = client.ReadText()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, client.WriteText("late"), ErrClosed)

	assert.Equal(t, []string{"ws://a.example/.ws?v=5"}, n.Dialed())
}

func TestMemNetworkUnknownHost(t *testing.T) {
	n := NewMemNetwork()
	_, err := n.Dial(context.Background(), "ws://nowhere.example/.ws")
	assert.Error(t, err)
}

func TestWebsocketDialerEcho(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.ws", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("v"))

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebsocketConn(ws, time.Second)
		defer conn.Close()

		// 바이너리 프레임은 클라이언트가 건너뛰어야 한다.
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		for {
			msg, err := conn.ReadText()
			if err != nil {
				return
			}
			if err := conn.WriteText("echo:" + msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	endpoint := Endpoint{
		Scheme:  "ws",
		Host:    strings.TrimPrefix(srv.URL, "http://"),
		Version: "5",
	}

	d := &WebsocketDialer{HandshakeTimeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx, endpoint.URL())
	require.NoError(t, err)

	require.NoError(t, conn.WriteText(`{"t":"d","d":{"r":1,"a":"q","b":{}}}`))
	got, err := conn.ReadText()
	require.NoError(t, err)
	assert.Equal(t, `echo:{"t":"d","d":{"r":1,"a":"q","b":{}}}`, got)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "second close is a no-op")
	assert.ErrorIs(t, conn.WriteText("x"), ErrClosed)
}
