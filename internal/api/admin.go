package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dalbodeule/pubq-gate/internal/logging"
)

// CachePurger 는 메뉴 캐시를 비웁니다. (*menu.Service 가 구현)
type CachePurger interface {
	Purge()
}

// Reconnector 는 upstream 소켓을 새로 엽니다. (*pubq.Client 가 구현)
type Reconnector interface {
	Connect(ctx context.Context) error
}

// EnableAdmin 은 /api/admin 관리 엔드포인트를 켭니다.
// apiKey 가 비어 있으면 라우트는 등록되지만 모든 요청을 401 로 거부합니다.
func (h *Handler) EnableAdmin(apiKey string, cache CachePurger, rc Reconnector) *Handler {
	h.AdminAPIKey = strings.TrimSpace(apiKey)
	h.Cache = cache
	h.Reconnector = rc
	h.admin = true
	h.Logger.Info("admin api enabled", logging.Fields{
		"admin_api_key": maskKey(h.AdminAPIKey),
	})
	return h
}

// adminRoutes 는 관리 API 라우트를 등록합니다.
//   - POST /api/admin/cache/purge
//   - POST /api/admin/reconnect
//   - GET  /api/admin/session
func (h *Handler) adminRoutes(r chi.Router) {
	r.Use(h.adminAuth)
	r.Post("/cache/purge", h.handleCachePurge)
	r.Post("/reconnect", h.handleReconnect)
	r.Get("/session", h.handleSession)
}

// adminAuth 는 Authorization: Bearer {PUBQ_ADMIN_API_KEY} 헤더를 검증합니다.
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authenticate(r) {
			h.Logger.Warn("admin request rejected", logging.Fields{
				"request_id": requestIDFrom(r.Context()),
				"path":       r.URL.Path,
			})
			h.writeJSON(w, http.StatusUnauthorized, apiResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authenticate(r *http.Request) bool {
	if h.AdminAPIKey == "" {
		return false
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminAPIKey)) == 1
}

func (h *Handler) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		h.writeJSON(w, http.StatusNotImplemented, apiResponse{Error: "cache purge not available"})
		return
	}
	h.Cache.Purge()
	h.Logger.Info("menu cache purged", logging.Fields{"request_id": requestIDFrom(r.Context())})
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (h *Handler) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if h.Reconnector == nil {
		h.writeJSON(w, http.StatusNotImplemented, apiResponse{Error: "reconnect not available"})
		return
	}
	if err := h.Reconnector.Connect(r.Context()); err != nil {
		h.Logger.Error("manual reconnect failed", logging.Fields{
			"request_id": requestIDFrom(r.Context()),
			"error":      err.Error(),
		})
		h.writeJSON(w, http.StatusBadGateway, apiResponse{Error: "reconnect failed"})
		return
	}
	h.Logger.Info("manual reconnect succeeded", logging.Fields{"request_id": requestIDFrom(r.Context())})
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: h.sessionView()})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: h.sessionView()})
}

type sessionView struct {
	State       string `json:"state"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServerHost  string `json:"server_host,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Version     string `json:"version,omitempty"`
	ConnectedAt string `json:"connected_at,omitempty"`
	InboxDepth  int    `json:"inbox_depth"`
}

func (h *Handler) sessionView() sessionView {
	if h.Upstream == nil {
		return sessionView{State: "closed"}
	}
	s := h.Upstream.Session()
	v := sessionView{
		State:      h.Upstream.State().String(),
		Endpoint:   s.Endpoint,
		ServerHost: s.ServerHost,
		SessionID:  s.SessionID,
		Version:    s.Version,
		InboxDepth: h.Upstream.Inbox().Len(),
	}
	if !s.ConnectedAt.IsZero() {
		v.ConnectedAt = s.ConnectedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// maskKey 는 로그 등에 사용할 수 있도록 API 키를 마스킹합니다.
func maskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
