package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 전역 레지스트리에 등록할 PubQ Gate 메트릭들을 정의합니다.
// Prometheus 기본 네임스페이스를 사용하며, 메트릭 이름에 pubq_ 접두어를 붙입니다.

var (
	// 소켓 연결 시도 총 횟수 (결과/사유 라벨 포함).
	ConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubq_connects_total",
			Help: "Total number of realtime socket connection attempts, labeled by reason and result.",
		},
		[]string{"reason", "result"}, // reason: initial, redirect / result: success, failure
	)

	// 서버가 지시한 redirect 수.
	RedirectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pubq_redirects_total",
			Help: "Total number of server-initiated host redirects followed by the client.",
		},
	)

	// 수신 프레임 수 (kind 라벨: control, data, unknown, malformed).
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubq_frames_total",
			Help: "Total number of inbound frames, labeled by decoded kind.",
		},
		[]string{"kind"},
	)

	// 여러 조각으로 나뉘어 도착한 뒤 재조립된 프레임 수.
	ChunkedFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pubq_chunked_frames_total",
			Help: "Total number of frames reassembled from a declared number of chunks.",
		},
	)

	// 상관 요청 수 (action/result 라벨: ok, timeout, send_error, closed, canceled).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubq_requests_total",
			Help: "Total number of correlated requests, labeled by action and result.",
		},
		[]string{"action", "result"},
	)

	// 상관 요청 왕복 시간 분포.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pubq_request_duration_seconds",
			Help:    "Histogram of correlated request round-trip latencies in seconds, labeled by action.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// inbox 에 쌓여 있는 비요청 프레임 수.
	InboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubq_inbox_depth",
			Help: "Number of unsolicited frames currently buffered in the inbox.",
		},
	)

	// 메뉴 서비스 조회 결과 (kind: vendors, menu, sites / source: upstream, cache, snapshot, error).
	MenuFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubq_menu_fetches_total",
			Help: "Total number of menu service lookups, labeled by kind and the source that served them.",
		},
		[]string{"kind", "source"},
	)

	// 대시보드 HTTP 요청 수 (메서드/상태 코드 라벨 포함).
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubq_http_requests_total",
			Help: "Total number of HTTP requests handled by the dashboard API, labeled by method and status code.",
		},
		[]string{"method", "status"},
	)

	// HTTP 요청 처리 시간 분포 (메서드 라벨 포함).
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pubq_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies in seconds at the dashboard API, labeled by method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// MustRegister 는 위에서 정의한 메트릭들을 전역 Prometheus 레지스트리에 등록합니다.
// 프로세스 시작 시 한 번만 호출해야 합니다.
func MustRegister() {
	prometheus.MustRegister(
		ConnectsTotal,
		RedirectsTotal,
		FramesTotal,
		ChunkedFramesTotal,
		RequestsTotal,
		RequestDurationSeconds,
		InboxDepth,
		MenuFetchesTotal,
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
	)
}
