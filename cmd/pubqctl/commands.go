package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dalbodeule/pubq-gate/internal/config"
	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/menu"
	"github.com/dalbodeule/pubq-gate/internal/protocol"
	"github.com/dalbodeule/pubq-gate/internal/pubq"
)

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query <path>",
		Short: "경로를 조회하고 서버가 밀어준 데이터를 출력합니다",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			data, err := client.Query(cmd.Context(), args[0], a.timeout)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				data = json.RawMessage("null")
			}
			return writeJSON(cmd, data)
		},
	}
}

func newVendorsCmd(a *app) *cobra.Command {
	var (
		site     string
		excluded []string
	)
	cmd := &cobra.Command{
		Use:   "vendors",
		Short: "사이트의 벤더 목록을 출력합니다",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			path := config.DefaultClientUnitsPath
			if site != "" {
				path = menu.ClientUnitsPath(site)
			}
			list, err := a.menuService(client, excluded).VendorsAt(cmd.Context(), path)
			if err != nil {
				return err
			}
			return writeJSON(cmd, list)
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site id under /clientUnits (default compassdk_danskebank)")
	cmd.Flags().StringSliceVar(&excluded, "exclude", nil, "vendor routeName to exclude (repeatable)")
	return cmd
}

func newMenuCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "menu <routeName>",
		Short: "벤더의 활성 메뉴를 출력합니다",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			m, err := a.menuService(client, nil).Menu(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, m)
		},
	}
}

func newListenCmd(a *app) *cobra.Command {
	var (
		count int
		wait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "listen [path...]",
		Short: "inbox 로 들어오는 비상관 프레임을 한 줄씩 출력합니다",
		Long:  "주어진 경로를 먼저 조회 요청한 뒤, 응답과 상관없는 프레임(서버 push 등)을 도착 순서대로 출력합니다. --wait 동안 아무 프레임도 없으면 종료합니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			for _, path := range args {
				resp, err := client.Submit(cmd.Context(), protocol.ActionQuery, protocol.QueryBody{Path: path}, a.timeout)
				if err != nil {
					return fmt.Errorf("subscribe %s: %w", path, err)
				}
				if resp.Raw != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), string(resp.Raw))
				}
			}

			out := cmd.OutOrStdout()
			for n := 0; count <= 0 || n < count; n++ {
				frame, err := client.Inbox().Poll(cmd.Context(), wait)
				switch {
				case errors.Is(err, pubq.ErrInboxTimeout):
					return nil
				case err != nil:
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if _, err := fmt.Fprintln(out, string(frame.Raw)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many frames (0 = unlimited)")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "stop when no frame arrives within this duration")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <name=count>...",
		Short: "클라이언트 SDK 통계를 보고합니다",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			counters, err := parseCounters(args)
			if err != nil {
				return err
			}

			client, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.ReportStats(cmd.Context(), counters); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"reported": counters})
		},
	}
}

func (a *app) menuService(client *pubq.Client, excluded []string) *menu.Service {
	return menu.NewService(client, nil, logging.NewNop(), menu.Config{
		ExcludedVendors: excluded,
		Attempts:        1,
		RequestTimeout:  a.timeout,
	})
}

func parseCounters(args []string) (map[string]int, error) {
	out := make(map[string]int, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid counter %q, want name=count", arg)
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid counter %q, want name=count", arg)
		}
		out[name] = n
	}
	return out, nil
}
