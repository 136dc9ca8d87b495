package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dalbodeule/pubq-gate/internal/errorpages"
	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/menu"
	"github.com/dalbodeule/pubq-gate/internal/protocol"
	"github.com/dalbodeule/pubq-gate/internal/pubq"
)

const (
	defaultInboxWait = 2 * time.Second
	maxInboxWait     = 30 * time.Second
)

// MenuService 는 대시보드가 사용하는 메뉴 조회 기능입니다. (*menu.Service 가 구현)
type MenuService interface {
	Vendors(ctx context.Context) (*menu.VendorList, error)
	VendorsAt(ctx context.Context, clientUnitsPath string) (*menu.VendorList, error)
	Menu(ctx context.Context, routeName string) (*menu.Menu, error)
	Sites(ctx context.Context) (*menu.SiteList, error)
}

// Upstream 은 상태 확인과 inbox 조회에 쓰는 클라이언트 기능입니다. (*pubq.Client 가 구현)
type Upstream interface {
	State() pubq.State
	Session() pubq.SessionInfo
	Inbox() *pubq.Inbox
}

// Handler 는 대시보드 HTTP API 와 정적 front-end 를 제공합니다.
type Handler struct {
	Logger      logging.Logger
	Menu        MenuService
	Upstream    Upstream
	FrontendDir string
	Metrics     bool

	// EnableAdmin 으로 설정
	AdminAPIKey string
	Cache       CachePurger
	Reconnector Reconnector

	admin   bool
	started time.Time
}

// NewHandler 는 새로운 Handler 를 생성합니다.
func NewHandler(logger logging.Logger, svc MenuService, up Upstream, frontendDir string, metrics bool) *Handler {
	return &Handler{
		Logger:      logger.With(logging.Fields{"component": "dashboard_api"}),
		Menu:        svc,
		Upstream:    up,
		FrontendDir: strings.TrimSpace(frontendDir),
		Metrics:     metrics,
		started:     time.Now(),
	}
}

// Router 는 라우트를 등록한 http.Handler 를 반환합니다.
//   - GET /health, /api/health
//   - GET /api/vendors
//   - GET /api/menu/{route}
//   - GET /api/sites
//   - GET /api/sites/{site}/vendors
//   - GET /api/inbox?timeout=2s&peek=1
//   - /api/admin/* (EnableAdmin 호출 시, Bearer 인증)
//   - GET /metrics (Metrics 가 true 일 때)
//   - 그 밖의 경로: FrontendDir 의 정적 파일, 없으면 HTML 404
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)
	r.Use(allowAllCORS)

	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/vendors", h.handleVendors)
		r.Get("/menu/{route}", h.handleMenu)
		r.Get("/sites", h.handleSites)
		r.Get("/sites/{site}/vendors", h.handleSiteVendors)
		r.Get("/inbox", h.handleInbox)
		if h.admin {
			r.Route("/admin", h.adminRoutes)
		}
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			h.writeJSON(w, http.StatusNotFound, apiResponse{Error: "not found"})
		})
		r.MethodNotAllowed(h.writeMethodNotAllowed)
	})

	if h.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	if assets, err := fs.Sub(errorpages.AssetsFS, "assets"); err == nil {
		r.Handle("/__pubq/errors/*", http.StripPrefix("/__pubq/errors/", http.FileServer(http.FS(assets))))
	}

	r.NotFound(h.handleFrontend)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errorpages.Render(w, r, http.StatusMethodNotAllowed)
	})
	return r
}

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Upstream   string `json:"upstream"`
	ServerHost string `json:"server_host,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Uptime     string `json:"uptime"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Upstream: pubq.StateClosed.String(),
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	}
	if h.Upstream != nil {
		s := h.Upstream.Session()
		resp.Upstream = h.Upstream.State().String()
		resp.ServerHost = s.ServerHost
		resp.SessionID = s.SessionID
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVendors(w http.ResponseWriter, r *http.Request) {
	list, err := h.Menu.Vendors(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, "vendors", err)
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: list})
}

func (h *Handler) handleSiteVendors(w http.ResponseWriter, r *http.Request) {
	site := strings.TrimSpace(chi.URLParam(r, "site"))
	if site == "" || strings.ContainsAny(site, ".$#[]/") {
		h.writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid site"})
		return
	}
	list, err := h.Menu.VendorsAt(r.Context(), menu.ClientUnitsPath(site))
	if err != nil {
		h.writeUpstreamError(w, r, "site_vendors", err)
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: list})
}

func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) {
	m, err := h.Menu.Menu(r.Context(), chi.URLParam(r, "route"))
	if err != nil {
		h.writeUpstreamError(w, r, "menu", err)
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: m})
}

func (h *Handler) handleSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Menu.Sites(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, "sites", err)
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: sites})
}

type inboxFrame struct {
	Kind  string          `json:"kind"`
	Frame json.RawMessage `json:"frame"`
	Depth int             `json:"depth"`
}

// handleInbox 는 비요청 프레임 하나를 꺼냅니다. peek=1 이면 제거하지 않습니다.
// 제한 시간 안에 프레임이 없으면 204 를 반환합니다.
func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	if h.Upstream == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, apiResponse{Error: "upstream not configured"})
		return
	}
	inbox := h.Upstream.Inbox()

	q := r.URL.Query()
	if q.Get("peek") == "1" || q.Get("peek") == "true" {
		f, ok := inbox.Peek()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toInboxFrame(f, inbox.Len())})
		return
	}

	wait := defaultInboxWait
	if raw := q.Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid timeout"})
			return
		}
		wait = min(d, maxInboxWait)
	}

	f, err := inbox.Poll(r.Context(), wait)
	if err != nil {
		if errors.Is(err, pubq.ErrInboxTimeout) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		// 클라이언트가 연결을 끊은 경우
		h.Logger.Debug("inbox poll aborted", logging.Fields{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toInboxFrame(f, inbox.Len())})
}

func toInboxFrame(f protocol.Frame, depth int) inboxFrame {
	return inboxFrame{Kind: f.Kind.String(), Frame: f.Raw, Depth: depth}
}

// handleFrontend 는 FrontendDir 의 정적 파일을 제공합니다. 파일이 없으면 HTML 404 페이지를 씁니다.
func (h *Handler) handleFrontend(w http.ResponseWriter, r *http.Request) {
	if h.FrontendDir == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		errorpages.Render(w, r, http.StatusNotFound)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	target := filepath.Join(h.FrontendDir, filepath.FromSlash(clean))
	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		info, err = os.Stat(filepath.Join(target, "index.html"))
	}
	if err != nil {
		errorpages.Render(w, r, http.StatusNotFound)
		return
	}
	http.FileServer(http.Dir(h.FrontendDir)).ServeHTTP(w, r)
}

// writeUpstreamError 는 조회 에러를 상태 코드로 바꿔 씁니다.
//   - 잘못된 route: 400
//   - 데이터 없음: 404
//   - 시간 초과: 504
//   - 그 밖의 upstream 실패: 502
func (h *Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusBadGateway
	msg := "upstream unavailable"
	switch {
	case errors.Is(err, menu.ErrInvalidRoute):
		status, msg = http.StatusBadRequest, "invalid vendor route"
	case errors.Is(err, menu.ErrNoData):
		status, msg = http.StatusNotFound, "no data"
	case errors.Is(err, pubq.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "upstream timeout"
	}

	fields := logging.Fields{
		"request_id": requestIDFrom(r.Context()),
		"op":         op,
		"status":     status,
		"error":      err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("upstream lookup failed", fields)
	} else {
		h.Logger.Warn("lookup rejected", fields)
	}
	h.writeJSON(w, status, apiResponse{Error: msg})
}

func (h *Handler) writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusMethodNotAllowed, apiResponse{Error: "method not allowed"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Warn("failed to write json response", logging.Fields{"error": err.Error()})
	}
}
