package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OpenMCP-Triage/internal/agents"
	"OpenMCP-Triage/internal/app"
	"OpenMCP-Triage/internal/bootstrap"
	"OpenMCP-Triage/internal/config"
	"OpenMCP-Triage/internal/driver"
	"OpenMCP-Triage/internal/observability/tracing"
	"OpenMCP-Triage/internal/toolserver"
	"OpenMCP-Triage/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"trpc.group/trpc-go/trpc-agent-go/tool"
)

var defaultQueries = []string{
	"Hola, ¿cómo estás?",
	"Can you tell me the most recent transactions for wallet 0x37305b1cd40574e4c5ce33f8e8306be057fd7341?",
	"What's the secret word?",
}

// main 拉起交易工具服务，再通过 MCP 连接顺序执行三条查询。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		app.ReportFailure(ctx, "triaged", err)
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

	if !cfg.Bootstrap.IsEnabled() {
		return runRemote(ctx, cfg)
	}

	fmt.Printf("Starting SSE server at %s ...\n", cfg.ToolServer.URL)
	supervisor := bootstrap.New(bootstrap.Config{
		Launcher:   cfg.Bootstrap.Launcher,
		Args:       cfg.Bootstrap.Args,
		WorkingDir: cfg.Bootstrap.WorkingDir,
		ReadyDelay: cfg.Bootstrap.ReadyDelay(),
		StopGrace:  cfg.Bootstrap.StopGrace(),
	})
	return supervisor.Run(ctx, func(ctx context.Context) error {
		fmt.Print("SSE server started. Running example...\n\n\n")
		return runRemote(ctx, cfg)
	})
}

func runRemote(ctx context.Context, cfg *config.Config) error {
	toolSet := agents.NewToolSet(cfg.ToolServer, toolserver.ToolName)
	defer func() {
		if err := toolSet.Close(); err != nil {
			logger.Named("triaged").Warn("关闭 MCP 工具集失败", "error", err)
		}
	}()

	providers, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Named("triaged").Warn("关闭 tracing 失败", "error", err)
		}
	}()

	ctx, span, traceID := tracing.StartWorkflow(ctx, cfg.Tracing.Workflow,
		attribute.String("tool_server.url", cfg.ToolServer.URL))
	defer span.End()
	fmt.Printf("View trace: %s\n\n", tracing.ViewLink(cfg.Tracing.ViewURL, traceID))

	rt, err := app.Build(ctx, cfg, []tool.ToolSet{toolSet},
		driver.WithStyle(driver.StyleRunning),
		driver.WithTraceID(traceID),
		driver.WithDriverName("remote"),
	)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	defer rt.Close()

	err = rt.Execute(ctx, cfg, app.Queries(cfg, defaultQueries))
	tracing.RecordError(span, err)
	return err
}
