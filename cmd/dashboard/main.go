package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dalbodeule/pubq-gate/internal/api"
	"github.com/dalbodeule/pubq-gate/internal/config"
	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/menu"
	"github.com/dalbodeule/pubq-gate/internal/observability"
	"github.com/dalbodeule/pubq-gate/internal/pubq"
	"github.com/dalbodeule/pubq-gate/internal/store"
	"github.com/dalbodeule/pubq-gate/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen      string
		frontendDir string
		host        string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:           "pubq-dashboard",
		Short:         "PubQ 메뉴 대시보드 HTTP 서버",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDashboardConfigFromEnv()
			if err != nil {
				logging.NewStdJSONLogger("dashboard").Error("failed to load dashboard config from env", logging.Fields{
					"error": err.Error(),
				})
				return err
			}

			// 플래그가 지정된 경우 환경변수보다 우선합니다.
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.HTTPListen = listen
			}
			if flags.Changed("frontend-dir") {
				cfg.FrontendDir = frontendDir
			}
			if flags.Changed("host") {
				cfg.Client.Host = host
			}
			if flags.Changed("debug") {
				cfg.Debug = debug
				if debug {
					cfg.Logging.Level = logging.DebugLevel
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides PUBQ_HTTP_LISTEN)")
	cmd.Flags().StringVar(&frontendDir, "frontend-dir", "", "static frontend directory (overrides PUBQ_FRONTEND_DIR)")
	cmd.Flags().StringVar(&host, "host", "", "initial realtime DB host (overrides PUBQ_HOST)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging (overrides PUBQ_DEBUG)")
	return cmd
}

func run(ctx context.Context, cfg *config.DashboardConfig) error {
	logger := logging.NewJSONLogger(os.Stdout, "dashboard", cfg.Logging.Level)

	logger.Info("pubq dashboard starting", logging.Fields{
		"http_listen":       cfg.HTTPListen,
		"frontend_dir":      cfg.FrontendDir,
		"pubq_host":         cfg.Client.Host,
		"pubq_namespace":    cfg.Client.Namespace,
		"client_units_path": cfg.ClientUnitsPath,
		"excluded_vendors":  cfg.ExcludedVendors,
		"cache_ttl":         cfg.CacheTTL.String(),
		"metrics":           cfg.MetricsEnable,
		"debug":             cfg.Debug,
	})

	if cfg.MetricsEnable {
		observability.MustRegister()
	}

	// 1. 실시간 DB 소켓 클라이언트
	client := pubq.New(pubq.Options{
		Endpoint: transport.Endpoint{
			Host:      cfg.Client.Host,
			Version:   cfg.Client.ProtocolVersion,
			Namespace: cfg.Client.Namespace,
		},
		Logger:         logger,
		ConnectTimeout: cfg.Client.ConnectTimeout,
		RequestTimeout: cfg.Client.RequestTimeout,
		WaitHandshake:  cfg.Client.WaitHandshake,
	})
	defer client.Close()

	// 초기 연결 실패는 치명적이지 않습니다. 첫 조회 시 다시 연결합니다.
	if err := client.Connect(ctx); err != nil {
		logger.Warn("initial pubq connect failed, will retry on demand", logging.Fields{
			"error": err.Error(),
		})
	}

	// 2. 스냅샷 저장소 (PUBQ_DB_DSN 이 없으면 비활성)
	var snapshots menu.SnapshotStore
	snapStore, err := store.OpenPostgresFromEnv(ctx, logger)
	switch {
	case err == nil:
		defer snapStore.Close()
		snapshots = snapStore
	case errors.Is(err, store.ErrNoDSN):
		logger.Info("snapshot store disabled", logging.Fields{
			"reason": "PUBQ_DB_DSN is not set",
		})
	default:
		logger.Error("failed to open snapshot store", logging.Fields{
			"error": err.Error(),
		})
		return err
	}

	// 3. 메뉴 서비스 + HTTP API
	svc := menu.NewService(client, snapshots, logger, menu.Config{
		ClientUnitsPath: cfg.ClientUnitsPath,
		ExcludedVendors: cfg.ExcludedVendors,
		CacheTTL:        cfg.CacheTTL,
		Attempts:        cfg.FetchAttempts,
		RequestTimeout:  cfg.Client.RequestTimeout,
	})
	handler := api.NewHandler(logger, svc, client, cfg.FrontendDir, cfg.MetricsEnable)
	if cfg.AdminAPIKey != "" {
		handler.EnableAdmin(cfg.AdminAPIKey, svc, client)
	}
	srv := api.NewHTTPServer(cfg.HTTPListen, handler.Router())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logging.Fields{
			"addr": cfg.HTTPListen,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", logging.Fields{
				"error": err.Error(),
			})
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", logging.Fields{
			"error": err.Error(),
		})
	}
	logger.Info("pubq dashboard stopped", nil)
	return nil
}
