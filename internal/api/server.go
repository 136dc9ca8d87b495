package api

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewHTTPServer 는 H1/H2 를 지원하는 대시보드 HTTP 서버를 생성합니다.
// 평문 리스너에서는 h2c(prior knowledge / Upgrade) 로, TLS 에서는 ALPN 으로 HTTP/2 를 받습니다.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	h2s := &http2.Server{}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, h2s),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	_ = http2.ConfigureServer(srv, h2s)
	return srv
}
