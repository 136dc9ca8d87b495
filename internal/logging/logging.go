package logging

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 은 로그의 심각도 레벨을 나타냅니다.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) rank() int {
	switch l {
	case DebugLevel:
		return 0
	case InfoLevel:
		return 1
	case WarnLevel:
		return 2
	case ErrorLevel:
		return 3
	default:
		return 1
	}
}

// ParseLevel 은 "debug", "info", "warn"(또는 "warning"), "error" 문자열을 Level 로 변환합니다.
// 알 수 없는 값이면 InfoLevel 과 false 를 반환합니다.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DebugLevel, true
	case "info":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	default:
		return InfoLevel, false
	}
}

// Fields 는 구조적 로그의 key/value 필드를 표현합니다.
type Fields map[string]any

// Logger 는 단일 라인 JSON 으로 출력되는 구조적 로그 인터페이스입니다.
type Logger interface {
	// Debug 는 디버그 레벨 로그를 기록합니다.
	Debug(msg string, fields Fields)

	// Info 는 정보 레벨 로그를 기록합니다.
	Info(msg string, fields Fields)

	// Warn 는 경고 레벨 로그를 기록합니다.
	Warn(msg string, fields Fields)

	// Error 는 에러 레벨 로그를 기록합니다.
	Error(msg string, fields Fields)

	// With 는 추가 필드를 항상 포함하는 child logger 를 생성합니다.
	With(fields Fields) Logger
}

// jsonLogger 는 표준 log.Logger 를 감싼 구현체입니다.
// 최소 레벨보다 낮은 로그는 버립니다.
type jsonLogger struct {
	l      *log.Logger
	min    Level
	fields Fields
}

func (s *jsonLogger) log(level Level, msg string, fields Fields) {
	if level.rank() < s.min.rank() {
		return
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}

	// 공통 필드 병합
	for k, v := range s.fields {
		entry[k] = v
	}
	// 호출 시 전달된 필드 병합(우선순위 높음)
	for k, v := range fields {
		entry[k] = v
	}

	b, err := json.Marshal(entry)
	if err != nil {
		// JSON 마샬 실패 시 fallback 으로 기본 포맷 사용
		s.l.Printf("level=%s msg=%s marshal_error=%v", level, msg, err)
		return
	}
	s.l.Println(string(b))
}

func (s *jsonLogger) Debug(msg string, fields Fields) { s.log(DebugLevel, msg, fields) }
func (s *jsonLogger) Info(msg string, fields Fields)  { s.log(InfoLevel, msg, fields) }
func (s *jsonLogger) Warn(msg string, fields Fields)  { s.log(WarnLevel, msg, fields) }
func (s *jsonLogger) Error(msg string, fields Fields) { s.log(ErrorLevel, msg, fields) }

func (s *jsonLogger) With(fields Fields) Logger {
	merged := Fields{}
	for k, v := range s.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &jsonLogger{
		l:      s.l,
		min:    s.min,
		fields: merged,
	}
}

// NewJSONLogger 는 w 로 단일 라인 JSON 로그를 출력하는 Logger 를 생성합니다.
// log.Logger 가 Write 호출을 직렬화하므로 여러 goroutine 에서 동시에 사용해도 안전합니다.
func NewJSONLogger(w io.Writer, component string, minLevel Level) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &jsonLogger{
		l:      log.New(w, "", 0), // 프리픽스/타임스탬프는 JSON 필드로만 사용
		min:    minLevel,
		fields: Fields{"component": component},
	}
}

// NewStdJSONLogger 는 stdout 으로 info 레벨 이상의 JSON 로그를 출력하는 기본 Logger 를 생성합니다.
//
// component, client_id, request_id 같은 필드를 With 로 미리 설정해 두면
// 로그 수집기에서 필터링/그룹핑에 활용할 수 있습니다.
func NewStdJSONLogger(component string) Logger {
	return NewJSONLogger(os.Stdout, component, InfoLevel)
}

type nopLogger struct{}

func (nopLogger) Debug(string, Fields) {}
func (nopLogger) Info(string, Fields)  {}
func (nopLogger) Warn(string, Fields)  {}
func (nopLogger) Error(string, Fields) {}
func (n nopLogger) With(Fields) Logger { return n }

// NewNop 은 아무것도 출력하지 않는 Logger 를 반환합니다. (테스트용)
func NewNop() Logger { return nopLogger{} }

// Buffer 는 테스트에서 로그 출력을 캡처하기 위한 동시성 안전 writer 입니다.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			b.lines = append(b.lines, line)
		}
	}
	return len(p), nil
}

// Lines 는 지금까지 기록된 로그 라인의 복사본을 반환합니다.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}
