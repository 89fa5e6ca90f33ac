// Package app 组装驱动进程共用的配置、日志、智能体与运行记录。
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"OpenMCP-Triage/internal/agents"
	"OpenMCP-Triage/internal/api"
	"OpenMCP-Triage/internal/config"
	"OpenMCP-Triage/internal/driver"
	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/history"
	"OpenMCP-Triage/internal/inbox"
	"OpenMCP-Triage/pkg/logger"

	"trpc.group/trpc-go/trpc-agent-go/tool"
)

// LoadConfig 读取配置文件、加载 .env 并初始化全局日志。
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// ReportFailure 按错误的严重程度记录进程退出原因，并附带错误码与附加信息。
func ReportFailure(ctx context.Context, process string, err error) {
	attrs := append([]any{"process", process, "error", err}, xerrors.LogAttrs(err)...)
	logger.L().Log(ctx, xerrors.LogLevel(err), "进程运行失败", attrs...)
}

// Runtime 是一次驱动运行所需的全部组件。
type Runtime struct {
	Team    *agents.Team
	Driver  *driver.Driver
	History history.Repository
	closers []func() error
}

// Close 按创建的逆序释放资源。
func (r *Runtime) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, r.closers[i]())
	}
	r.closers = nil
	return err
}

// Build 创建模型、角色、智能体团队、提交器与运行记录仓库。
func Build(ctx context.Context, cfg *config.Config, toolSets []tool.ToolSet, opts ...driver.Option) (*Runtime, error) {
	mdl, err := agents.NewModel(cfg.LLM)
	if err != nil {
		return nil, err
	}
	roles, err := agents.LoadRoles(cfg.Router.RolesFile)
	if err != nil {
		return nil, err
	}
	team, err := agents.Build(roles, mdl, toolSets)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Team: team}
	classifier := agents.NewClassifier()

	var submitter driver.Submitter
	switch strings.ToLower(strings.TrimSpace(cfg.Router.Mode)) {
	case "", "llm":
		s := driver.NewRunnerSubmitter(team)
		rt.closers = append(rt.closers, s.Close)
		submitter = s
	case "rules":
		s := driver.NewRulesSubmitter(team, classifier)
		rt.closers = append(rt.closers, s.Close)
		submitter = s
	default:
		return nil, fmt.Errorf("未知的路由模式: %s", cfg.Router.Mode)
	}

	repo, err := history.New(ctx, cfg.History, cfg.Runtime.DataDir)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if repo != nil {
		rt.History = repo
		rt.closers = append(rt.closers, repo.Close)
	}

	base := []driver.Option{
		driver.WithRoles(roles),
		driver.WithClassifier(classifier),
		driver.WithHistory(repo),
		driver.WithTimeout(cfg.LLM.Timeout()),
	}
	rt.Driver = driver.New(submitter, append(base, opts...)...)

	logger.Named("app").Info("智能体已就绪",
		"router", roles.Router.Name,
		"mode", cfg.Router.Mode,
		"tool_attached", team.ToolAttached,
		"history", cfg.History.Driver,
	)
	return rt, nil
}

// Queries 返回配置中的查询列表，未配置时使用 defaults。
func Queries(cfg *config.Config, defaults []string) []string {
	if len(cfg.Router.Queries) > 0 {
		return cfg.Router.Queries
	}
	return defaults
}

// Execute 配置了查询队列时从队列消费，否则顺序执行 queries。
// 配置了 api.address 时同时启动 HTTP 接口，向同一队列投递查询。
func (r *Runtime) Execute(ctx context.Context, cfg *config.Config, queries []string) error {
	log := logger.Named("app")
	driverName := strings.ToLower(strings.TrimSpace(cfg.Inbox.Driver))
	// 进程内队列只能由本进程的 HTTP 接口投递，没有接口时永远不会收到查询。
	if driverName == "memory" && cfg.API.Address == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "memory 查询队列需要同时配置 api.address",
			xerrors.WithMetadata("inbox", driverName))
	}
	queue, err := inbox.New(cfg.Inbox)
	if err != nil {
		return err
	}
	if queue == nil {
		if cfg.API.Address != "" {
			log.Warn("未配置查询队列，忽略 api.address", "address", cfg.API.Address)
		}
		return r.Driver.Run(ctx, queries)
	}
	if len(cfg.Router.Queries) > 0 {
		log.Warn("已配置查询队列，忽略 router.queries", "count", len(cfg.Router.Queries), "inbox", driverName)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭查询队列失败", "error", err)
		}
	}()

	if cfg.API.Address != "" {
		apiCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		server := api.NewServer(cfg.API.Address, queue, r.History, cfg.API.ResolveToken())
		go func() {
			if err := server.Start(apiCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("API 服务异常退出", "error", err)
			}
		}()
	}

	log.Info("从查询队列消费", "driver", cfg.Inbox.Driver)
	return r.Driver.Serve(ctx, queue)
}
