package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/observability"
	"github.com/dalbodeule/pubq-gate/internal/pubq"
)

var (
	// ErrNoData 는 경로에 데이터가 없을 때(null) 반환됩니다.
	ErrNoData = errors.New("menu: no data at path")

	// ErrInvalidRoute 는 vendor routeName 이 경로에 쓸 수 없는 값일 때 반환됩니다.
	ErrInvalidRoute = errors.New("menu: invalid vendor route")
)

const (
	DefaultCacheTTL = 5 * time.Minute
	DefaultAttempts = 3
	sitesPath       = "/clientUnits"
)

// Source 는 결과를 어디서 가져왔는지 나타냅니다.
type Source string

const (
	SourceUpstream Source = "upstream"
	SourceCache    Source = "cache"
	SourceSnapshot Source = "snapshot"
)

type Vendor struct {
	Name      string `json:"name"`
	RouteName string `json:"routeName"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Visible   bool   `json:"visible"`
}

type MenuItem struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DescriptionLong string  `json:"descriptionLong,omitempty"`
	ImageURL        string  `json:"imageUrl,omitempty"`
	Price           float64 `json:"price"`
}

type Category struct {
	Name  string     `json:"name"`
	Type  string     `json:"type,omitempty"`
	Items []MenuItem `json:"items"`
}

// Meta 는 모든 조회 결과에 붙는 출처 정보입니다.
// Stale 은 upstream 조회가 모두 실패해 저장된 스냅샷으로 응답했을 때 true 입니다.
type Meta struct {
	Source    Source    `json:"source"`
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetched_at"`
}

type VendorList struct {
	Meta
	Vendors []Vendor `json:"vendors"`
}

type Menu struct {
	Meta
	RouteName  string     `json:"routeName"`
	Categories []Category `json:"categories"`
}

type SiteList struct {
	Meta
	Sites []string `json:"sites"`
}

// Upstream 은 메뉴 서비스가 사용하는 실시간 DB 클라이언트 기능입니다. (*pubq.Client 가 구현)
type Upstream interface {
	Connect(ctx context.Context) error
	State() pubq.State
	Query(ctx context.Context, path string, timeout time.Duration) (json.RawMessage, error)
}

// SnapshotStore 는 마지막으로 성공한 응답을 보관합니다. nil 이면 스냅샷 fallback 을 쓰지 않습니다.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, path string, payload json.RawMessage) error
	LatestSnapshot(ctx context.Context, path string) (json.RawMessage, time.Time, error)
}

// Config 는 메뉴 서비스 설정입니다.
type Config struct {
	ClientUnitsPath string
	ExcludedVendors []string
	CacheTTL        time.Duration
	Attempts        int
	RequestTimeout  time.Duration

	// Now 는 캐시 만료와 일자 회전에 쓰는 시계입니다. nil 이면 time.Now.
	Now func() time.Time
}

type cacheEntry struct {
	raw json.RawMessage
	at  time.Time
}

type fetched struct {
	raw json.RawMessage
	Meta
}

// Service 는 vendor/menu/site 조회를 캐시, 재시도, 스냅샷 fallback 과 함께 제공합니다.
// upstream 접근은 한 번에 하나씩 직렬화됩니다.
type Service struct {
	upstream Upstream
	snaps    SnapshotStore
	logger   logging.Logger
	cfg      Config

	upstreamMu sync.Mutex

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

func NewService(up Upstream, snaps SnapshotStore, logger logging.Logger, cfg Config) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		upstream: up,
		snaps:    snaps,
		logger:   logger.With(logging.Fields{"component": "menu_service"}),
		cfg:      cfg,
		cache:    make(map[string]cacheEntry),
	}
}

// Vendors 는 설정된 client-units 경로의 vendor 목록을 펼치고, 제외 목록을 빼고, 일자별로 회전시켜 반환합니다.
func (s *Service) Vendors(ctx context.Context) (*VendorList, error) {
	return s.VendorsAt(ctx, s.cfg.ClientUnitsPath)
}

// VendorsAt 은 임의 사이트의 client-units 경로로 Vendors 를 수행합니다.
func (s *Service) VendorsAt(ctx context.Context, clientUnitsPath string) (*VendorList, error) {
	f, err := s.fetch(ctx, "vendors", clientUnitsPath)
	if err != nil {
		return nil, err
	}
	vendors, invalid, err := flattenVendors(f.raw)
	if err != nil {
		return nil, err
	}
	if invalid > 0 {
		s.logger.Warn("skipped invalid vendor entries", logging.Fields{"path": clientUnitsPath, "count": invalid})
	}
	vendors = excludeVendors(vendors, s.cfg.ExcludedVendors)
	vendors = rotateByDay(vendors, s.cfg.Now())
	return &VendorList{Meta: f.Meta, Vendors: vendors}, nil
}

// Menu 는 vendor 의 활성 메뉴 카테고리를 반환합니다.
func (s *Service) Menu(ctx context.Context, routeName string) (*Menu, error) {
	routeName = strings.TrimSpace(routeName)
	if !validRoute(routeName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoute, routeName)
	}
	path := MenuPath(routeName)
	f, err := s.fetch(ctx, "menu", path)
	if err != nil {
		return nil, err
	}
	cats, invalid, err := parseCategories(f.raw)
	if err != nil {
		return nil, err
	}
	if invalid > 0 {
		s.logger.Warn("skipped invalid menu entries", logging.Fields{"path": path, "count": invalid})
	}
	return &Menu{Meta: f.Meta, RouteName: routeName, Categories: cats}, nil
}

// Sites 는 /clientUnits 의 사이트 id 목록을 반환합니다.
func (s *Service) Sites(ctx context.Context) (*SiteList, error) {
	f, err := s.fetch(ctx, "sites", sitesPath)
	if err != nil {
		return nil, err
	}
	sites, err := parseSites(f.raw)
	if err != nil {
		return nil, err
	}
	return &SiteList{Meta: f.Meta, Sites: sites}, nil
}

// Purge 는 캐시를 비웁니다.
func (s *Service) Purge() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	clear(s.cache)
}

// MenuPath 는 vendor 활성 메뉴 경로입니다.
func MenuPath(routeName string) string {
	return "/Clients/" + routeName + "/activeMenu/categories"
}

// ClientUnitsPath 는 사이트의 vendor 목록 경로입니다.
func ClientUnitsPath(site string) string {
	return "/clientUnits/" + site + "/all"
}

// 실시간 DB 키에 쓸 수 없는 문자: . $ # [ ] /
func validRoute(route string) bool {
	return route != "" && !strings.ContainsAny(route, ".$#[]/ ")
}

func (s *Service) cached(path string) (cacheEntry, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	e, ok := s.cache[path]
	if !ok || s.cfg.Now().Sub(e.at) >= s.cfg.CacheTTL {
		return cacheEntry{}, false
	}
	return e, true
}

func (s *Service) fetch(ctx context.Context, kind, path string) (fetched, error) {
	if e, ok := s.cached(path); ok {
		observability.MenuFetchesTotal.WithLabelValues(kind, string(SourceCache)).Inc()
		return fetched{raw: e.raw, Meta: Meta{Source: SourceCache, FetchedAt: e.at}}, nil
	}

	s.upstreamMu.Lock()
	defer s.upstreamMu.Unlock()

	// 기다리는 동안 다른 호출이 채웠을 수 있음
	if e, ok := s.cached(path); ok {
		observability.MenuFetchesTotal.WithLabelValues(kind, string(SourceCache)).Inc()
		return fetched{raw: e.raw, Meta: Meta{Source: SourceCache, FetchedAt: e.at}}, nil
	}

	log := s.logger.With(logging.Fields{"kind": kind, "path": path})
	raw, err := s.queryWithRetry(ctx, log, path)
	if err == nil {
		now := s.cfg.Now()
		s.cacheMu.Lock()
		s.cache[path] = cacheEntry{raw: raw, at: now}
		s.cacheMu.Unlock()

		if s.snaps != nil {
			if serr := s.snaps.SaveSnapshot(ctx, path, raw); serr != nil {
				log.Warn("failed to save snapshot", logging.Fields{"error": serr.Error()})
			}
		}
		observability.MenuFetchesTotal.WithLabelValues(kind, string(SourceUpstream)).Inc()
		return fetched{raw: raw, Meta: Meta{Source: SourceUpstream, FetchedAt: now}}, nil
	}

	if s.snaps != nil && !errors.Is(err, ErrNoData) {
		payload, takenAt, serr := s.snaps.LatestSnapshot(ctx, path)
		if serr == nil {
			log.Warn("serving stale snapshot", logging.Fields{
				"error":    err.Error(),
				"taken_at": takenAt,
			})
			observability.MenuFetchesTotal.WithLabelValues(kind, string(SourceSnapshot)).Inc()
			return fetched{raw: payload, Meta: Meta{Source: SourceSnapshot, Stale: true, FetchedAt: takenAt}}, nil
		}
		log.Debug("no snapshot available", logging.Fields{"error": serr.Error()})
	}

	observability.MenuFetchesTotal.WithLabelValues(kind, "error").Inc()
	return fetched{}, err
}

// queryWithRetry 는 최대 Attempts 번 조회하며, 실패 사이마다 재연결합니다.
// 경로에 데이터가 없는 경우(ErrNoData)는 재시도하지 않습니다.
func (s *Service) queryWithRetry(ctx context.Context, log logging.Logger, path string) (json.RawMessage, error) {
	if s.upstream.State() != pubq.StateOpen {
		if err := s.upstream.Connect(ctx); err != nil {
			log.Warn("connect before query failed", logging.Fields{"error": err.Error()})
		}
	}

	var (
		lastErr error
		tried   int
	)
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		tried = attempt
		raw, err := s.upstream.Query(ctx, path, s.cfg.RequestTimeout)
		if err == nil {
			if isNull(raw) {
				return nil, fmt.Errorf("%w: %s", ErrNoData, path)
			}
			if attempt > 1 {
				log.Info("query succeeded after retry", logging.Fields{"attempt": attempt})
			}
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt == s.cfg.Attempts {
			log.Error("query failed", logging.Fields{"attempts": attempt, "error": err.Error()})
			break
		}

		log.Warn("query attempt failed, reconnecting", logging.Fields{"attempt": attempt, "error": err.Error()})
		if cerr := s.upstream.Connect(ctx); cerr != nil {
			log.Warn("reconnect failed", logging.Fields{"attempt": attempt, "error": cerr.Error()})
		}
	}
	return nil, fmt.Errorf("query %s after %d attempts: %w", path, tried, lastErr)
}
