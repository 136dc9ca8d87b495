package errorpages

import (
	"embed"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// StatusUpstreamUnavailable is the status used when the realtime DB could not
// be reached (similar to 502).
// 실시간 DB 에 연결하지 못했을 때 사용하는 상태 코드입니다. (예: 502)
const StatusUpstreamUnavailable = http.StatusBadGateway

// StatusGatewayTimeout is the status used when the realtime DB did not answer
// within the request timeout (similar to 504).
// 실시간 DB 가 제한 시간 안에 응답하지 않은 경우의 상태 코드입니다. (예: 504)
const StatusGatewayTimeout = http.StatusGatewayTimeout

//go:embed templates/*.html
var embeddedTemplatesFS embed.FS

// AssetsFS embeds static assets (CSS) for error pages, served under /__pubq/errors/.
// 에러 페이지용 정적 에셋(CSS)을 바이너리에 포함하는 embed FS 입니다.
//
//go:embed assets/*
var AssetsFS embed.FS

// Render writes an error page HTML for the given HTTP status code to the response writer.
// If no matching template is found, it falls back to a minimal plain text response.
//
// 주어진 HTTP 상태 코드에 대한 에러 페이지 HTML을 응답에 씁니다.
// 해당 템플릿이 없으면 최소한의 텍스트 응답으로 폴백합니다.
func Render(w http.ResponseWriter, r *http.Request, status int) {
	html, ok := Load(status)

	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, "%d %s", status, http.StatusText(status))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r != nil && r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(html)
}

// Load attempts to load an error page for the given HTTP status code.
//
// Priority:
//  1. $PUBQ_ERROR_PAGES_DIR/<status>.html (or ./errors/<status>.html if env is empty)
//  2. embedded template: templates/<status>.html
//
// 우선순위:
//  1. $PUBQ_ERROR_PAGES_DIR/<status>.html (env 미설정 시 ./errors/<status>.html)
//  2. 내장 템플릿: templates/<status>.html
func Load(status int) ([]byte, bool) {
	name := fmt.Sprintf("%d.html", status)

	dir := strings.TrimSpace(os.Getenv("PUBQ_ERROR_PAGES_DIR"))
	if dir == "" {
		dir = "./errors"
	}
	if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
		return data, true
	}

	// embed.FS 는 항상 "/" 구분자를 사용합니다.
	if data, err := embeddedTemplatesFS.ReadFile("templates/" + name); err == nil {
		return data, true
	}
	return nil, false
}
