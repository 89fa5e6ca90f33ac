package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"OpenMCP-Triage/internal/app"
	"OpenMCP-Triage/internal/config"
	"OpenMCP-Triage/internal/ledger"
	"OpenMCP-Triage/internal/ledger/bigquery"
	"OpenMCP-Triage/internal/ledger/ethereum"
	"OpenMCP-Triage/internal/observability/metrics"
	"OpenMCP-Triage/internal/toolserver"
	"OpenMCP-Triage/pkg/logger"
)

// main 启动提供 get_latest_transactions 的 MCP SSE 服务。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		app.ReportFailure(ctx, "txserverd", err)
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	log := logger.Named("txserverd")

	source, closeSource, err := openSource(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer closeSource()

	svc := ledger.NewService(source,
		ledger.WithWindow(cfg.Ledger.Window()),
		ledger.WithLimit(cfg.Ledger.Limit),
	)
	server := toolserver.New(toolserver.Config{
		Name:        cfg.ToolServer.Name,
		Address:     cfg.ToolServer.Address,
		SSEPath:     cfg.ToolServer.SSEPath,
		MessagePath: cfg.ToolServer.MessagePath,
	}, svc)

	if addr := cfg.ToolServer.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("指标服务异常退出", "error", err)
			}
		}()
	}

	log.Info("交易工具服务启动", "url", server.URL(), "source", cfg.Ledger.Source, "window", svc.Window())
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openSource(ctx context.Context, cfg config.LedgerConfig) (ledger.Source, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "bigquery":
		src, err := bigquery.NewSource(ctx, bigquery.Config{ProjectID: cfg.ProjectID, Table: cfg.Table})
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	case "ethereum":
		src, err := ethereum.NewSource(ctx, ethereum.Config{
			RPCURL:        cfg.RPCURL,
			BlockTime:     time.Duration(cfg.BlockTimeSeconds) * time.Second,
			MaxBlockRange: cfg.MaxBlockRange,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知的交易数据源: %s", cfg.Source)
	}
}
