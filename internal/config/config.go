package config

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dalbodeule/pubq-gate/internal/logging"
)

// 기본값 (PubQ 개발 네임스페이스 기준).
const (
	DefaultPubQHost        = "s-usc1a-nss-2040.firebaseio.com"
	DefaultPubQNamespace   = "pq-dev"
	DefaultProtocolVersion = "5"
	DefaultClientUnitsPath = "/clientUnits/compassdk_danskebank/all"
)

// LoggingConfig 는 공통 로그 설정을 담습니다.
type LoggingConfig struct {
	Level logging.Level // debug, info, warn, error
}

// ClientConfig 는 PubQ 실시간 DB 소켓 클라이언트 설정을 담습니다.
type ClientConfig struct {
	Host            string        // 초기 접속 호스트 (redirect 시 서버가 다른 호스트를 지정할 수 있음)
	Namespace       string        // ns 쿼리 파라미터
	ProtocolVersion string        // v 쿼리 파라미터
	ConnectTimeout  time.Duration // 소켓 연결 + 핸드셰이크 대기 상한
	RequestTimeout  time.Duration // submit 기본 타임아웃
	WaitHandshake   bool          // true 이면 Connect 가 서버 핸드셰이크 control 프레임을 기다림
}

// DashboardConfig 는 대시보드 HTTP 프로세스 설정을 담습니다.
type DashboardConfig struct {
	HTTPListen      string        // 예: ":8000"
	FrontendDir     string        // 정적 프론트엔드 디렉터리 (비어 있으면 비활성)
	ClientUnitsPath string        // 벤더 목록 쿼리 경로
	ExcludedVendors []string      // 벤더 목록에서 제외할 routeName
	CacheTTL        time.Duration // 벤더/메뉴 캐시 유효 시간
	FetchAttempts   int           // 업스트림 조회 최대 시도 횟수 (시도 사이에 재연결)
	MetricsEnable   bool          // true 이면 /metrics 노출
	AdminAPIKey     string        // 비어 있지 않으면 /api/admin 관리 API 활성화 (Bearer)
	Debug           bool

	Client  ClientConfig
	Logging LoggingConfig
}

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// loadDotEnvOnce 는 현재 작업 디렉터리의 .env 파일을 한 번만 읽어서 os.Environ 에 주입합니다.
// - KEY=VALUE, export KEY=VALUE 형식을 지원
// - # 으로 시작하는 줄은 주석으로 간주합니다.
func loadDotEnvOnce() {
	dotenvOnce.Do(func() {
		dotenvErr = loadDotEnvFile(".env")
	})
}

func loadDotEnvFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// .env 가 없으면 조용히 무시
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, val, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		// 이미 OS 환경변수에 설정된 값이 있는 경우 이를 우선시합니다.
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, val)
		}
	}
	return scanner.Err()
}

func parseDotEnvLine(raw string) (string, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	// 양 끝의 작은/큰따옴표 제거
	val = strings.Trim(strings.TrimSpace(val), `"'`)
	if key == "" {
		return "", "", false
	}
	return key, val, true
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseCSVEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadLoggingFromEnv 는 공통 로그 설정을 .env/환경변수에서 읽어옵니다.
func loadLoggingFromEnv() LoggingConfig {
	level, _ := logging.ParseLevel(getEnvOrDefault("PUBQ_LOG_LEVEL", "info"))
	return LoggingConfig{Level: level}
}

// loadClientFromEnv 는 PubQ 소켓 클라이언트 설정을 읽어옵니다.
func loadClientFromEnv() ClientConfig {
	return ClientConfig{
		Host:            getEnvOrDefault("PUBQ_HOST", DefaultPubQHost),
		Namespace:       getEnvOrDefault("PUBQ_NAMESPACE", DefaultPubQNamespace),
		ProtocolVersion: getEnvOrDefault("PUBQ_PROTOCOL_VERSION", DefaultProtocolVersion),
		ConnectTimeout:  getEnvDuration("PUBQ_CONNECT_TIMEOUT", 5*time.Second),
		RequestTimeout:  getEnvDuration("PUBQ_REQUEST_TIMEOUT", 5*time.Second),
		WaitHandshake:   getEnvBool("PUBQ_HANDSHAKE_WAIT", true),
	}
}

// LoadClientConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 소켓 클라이언트 설정을 구성합니다.
func LoadClientConfigFromEnv() (*ClientConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}
	cfg := loadClientFromEnv()
	return &cfg, nil
}

// LoadDashboardConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 대시보드 설정을 구성합니다.
func LoadDashboardConfigFromEnv() (*DashboardConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	cfg := &DashboardConfig{
		HTTPListen:      normalizePort(os.Getenv("PUBQ_HTTP_LISTEN"), ":8000"),
		FrontendDir:     strings.TrimSpace(os.Getenv("PUBQ_FRONTEND_DIR")),
		ClientUnitsPath: getEnvOrDefault("PUBQ_CLIENT_UNITS_PATH", DefaultClientUnitsPath),
		ExcludedVendors: parseCSVEnv("PUBQ_EXCLUDED_VENDORS"),
		CacheTTL:        getEnvDuration("PUBQ_CACHE_TTL", 5*time.Minute),
		FetchAttempts:   getEnvInt("PUBQ_FETCH_ATTEMPTS", 3),
		MetricsEnable:   getEnvBool("PUBQ_METRICS_ENABLE", true),
		AdminAPIKey:     strings.TrimSpace(os.Getenv("PUBQ_ADMIN_API_KEY")),
		Debug:           getEnvBool("PUBQ_DEBUG", false),
		Client:          loadClientFromEnv(),
		Logging:         loadLoggingFromEnv(),
	}
	if cfg.Debug {
		cfg.Logging.Level = logging.DebugLevel
	}
	return cfg, nil
}

// normalizePort 는 숫자 포트만 지정된 경우 ":" prefix 를 붙입니다 (예: "80" -> ":80").
func normalizePort(p string, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return def
	}
	if strings.HasPrefix(p, ":") {
		return p
	}
	// 숫자로만 구성된 경우 ":" prefix 를 붙입니다.
	if _, err := strconv.Atoi(p); err == nil {
		return ":" + p
	}
	return p
}
