package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"OpenMCP-Triage/internal/app"
	"OpenMCP-Triage/internal/driver"
	"OpenMCP-Triage/pkg/logger"
)

var defaultQueries = []string{
	"Hola, ¿cómo estás?",
	"Can you provide the recent USDC transactions for wallet 0x37305b1cd40574e4c5ce33f8e8306be057fd7341?",
	"Hello, what is the weather like today?",
}

// main 在不连接交易工具的情况下批量执行查询。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		app.ReportFailure(ctx, "triage-local", err)
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

	rt, err := app.Build(ctx, cfg, nil,
		driver.WithStyle(driver.StyleBatch),
		driver.WithContinueOnError(true),
		driver.WithDriverName("local"),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.Execute(ctx, cfg, app.Queries(cfg, defaultQueries))
}
