package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dalbodeule/pubq-gate/internal/config"
	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/pubq"
	"github.com/dalbodeule/pubq-gate/internal/transport"
)

// app 은 하위 명령이 공유하는 연결 설정입니다.
type app struct {
	// dialer 가 nil 이면 WebsocketDialer 를 사용합니다. (테스트에서 MemNetwork 주입)
	dialer transport.Dialer
	// logOut 이 nil 이면 stderr 로 로그를 씁니다.
	logOut io.Writer

	host      string
	scheme    string
	namespace string
	version   string
	timeout   time.Duration
	handshake bool
	logLevel  string
}

func newRootCmd(dialer transport.Dialer) *cobra.Command {
	a := &app{dialer: dialer}

	rootCmd := &cobra.Command{
		Use:           "pubqctl",
		Short:         "PubQ realtime DB 소켓 운영 도구",
		Long:          "pubqctl 은 실시간 DB 웹소켓에 직접 연결해 경로를 조회하고, 벤더/메뉴를 확인하고, 서버가 밀어주는 프레임을 관찰합니다.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.applyEnv(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.host, "host", "", "realtime DB host (default PUBQ_HOST)")
	flags.StringVar(&a.scheme, "scheme", "wss", "websocket scheme")
	flags.StringVar(&a.namespace, "namespace", "", "namespace query parameter (default PUBQ_NAMESPACE)")
	flags.StringVar(&a.version, "protocol-version", "", "protocol version query parameter (default PUBQ_PROTOCOL_VERSION)")
	flags.DurationVar(&a.timeout, "timeout", 0, "request timeout (default PUBQ_REQUEST_TIMEOUT)")
	flags.BoolVar(&a.handshake, "handshake", true, "wait for the server handshake on connect")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newQueryCmd(a),
		newVendorsCmd(a),
		newMenuCmd(a),
		newListenCmd(a),
		newStatsCmd(a),
	)
	return rootCmd
}

// applyEnv 는 지정되지 않은 플래그를 환경변수(.env 포함) 값으로 채웁니다.
func (a *app) applyEnv(cmd *cobra.Command) error {
	cfg, err := config.LoadClientConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load client config: %w", err)
	}
	flags := cmd.Flags()
	if !flags.Changed("host") {
		a.host = cfg.Host
	}
	if !flags.Changed("namespace") {
		a.namespace = cfg.Namespace
	}
	if !flags.Changed("protocol-version") {
		a.version = cfg.ProtocolVersion
	}
	if !flags.Changed("timeout") {
		a.timeout = cfg.RequestTimeout
	}
	if !flags.Changed("handshake") {
		a.handshake = cfg.WaitHandshake
	}
	if _, ok := logging.ParseLevel(a.logLevel); !ok {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	return nil
}

// connect 는 클라이언트를 만들고 연결합니다. 호출자가 Close 해야 합니다.
func (a *app) connect(cmd *cobra.Command) (*pubq.Client, error) {
	level, _ := logging.ParseLevel(a.logLevel)
	out := a.logOut
	if out == nil {
		out = os.Stderr
	}

	client := pubq.New(pubq.Options{
		Endpoint: transport.Endpoint{
			Scheme:    a.scheme,
			Host:      a.host,
			Version:   a.version,
			Namespace: a.namespace,
		},
		Dialer:         a.dialer,
		Logger:         logging.NewJSONLogger(out, "pubqctl", level),
		ConnectTimeout: a.timeout,
		RequestTimeout: a.timeout,
		WaitHandshake:  a.handshake,
	})
	if err := client.Connect(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
