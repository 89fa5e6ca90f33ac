package agents

import (
	"strings"

	"OpenMCP-Triage/internal/config"
	xerrors "OpenMCP-Triage/internal/errors"

	"trpc.group/trpc-go/trpc-agent-go/agent"
	"trpc.group/trpc-go/trpc-agent-go/agent/llmagent"
	"trpc.group/trpc-go/trpc-agent-go/model"
	"trpc.group/trpc-go/trpc-agent-go/model/openai"
	"trpc.group/trpc-go/trpc-agent-go/tool"
	"trpc.group/trpc-go/trpc-agent-go/tool/mcp"
)

// Team 保存构建好的路由器与三个叶子智能体。
type Team struct {
	Roles        Roles
	Router       agent.Agent
	Leaves       map[Route]agent.Agent
	ToolAttached bool
}

// Leaf 返回指定路由的叶子智能体。
func (t *Team) Leaf(route Route) (agent.Agent, bool) {
	ag, ok := t.Leaves[route]
	return ag, ok
}

// Build 按角色定义构造智能体。toolSets 为空时交易叶子绑定 UnavailableModel。
func Build(roles Roles, mdl model.Model, toolSets []tool.ToolSet) (*Team, error) {
	if mdl == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型")
	}
	if err := roles.Validate(); err != nil {
		return nil, err
	}

	spanish := newLeaf(roles.Spanish, mdl)
	english := newLeaf(roles.English, mdl)

	var bigquery agent.Agent
	if len(toolSets) > 0 {
		bigquery = newLeaf(roles.Tool, mdl, llmagent.WithToolSets(toolSets))
	} else {
		bigquery = newLeaf(roles.Tool, &UnavailableModel{})
	}

	// hand-off 顺序与角色定义保持一致：西班牙语、交易、英语。
	router := llmagent.New(roles.Router.Name,
		llmagent.WithModel(mdl),
		llmagent.WithDescription(roles.Router.Description),
		llmagent.WithInstruction(roles.Router.Instructions),
		llmagent.WithSubAgents([]agent.Agent{spanish, bigquery, english}),
	)

	return &Team{
		Roles:  roles,
		Router: router,
		Leaves: map[Route]agent.Agent{
			RouteSpanish: spanish,
			RouteTool:    bigquery,
			RouteEnglish: english,
		},
		ToolAttached: len(toolSets) > 0,
	}, nil
}

func newLeaf(role Role, mdl model.Model, extra ...llmagent.Option) agent.Agent {
	opts := []llmagent.Option{
		llmagent.WithModel(mdl),
		llmagent.WithDescription(role.Description),
		llmagent.WithInstruction(role.Instructions),
	}
	opts = append(opts, extra...)
	return llmagent.New(role.Name, opts...)
}

// NewModel 根据配置创建 OpenAI 兼容的模型。
func NewModel(cfg config.LLMConfig) (model.Model, error) {
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型 API Key",
			xerrors.WithMetadata("env", cfg.APIKeyEnv))
	}
	opts := []openai.Option{openai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(cfg.Model, opts...), nil
}

// NewToolSet 创建连接交易工具服务的 MCP SSE 工具集，只暴露给定名称的工具。
func NewToolSet(cfg config.ToolServerConfig, toolNames ...string) tool.ToolSet {
	conn := mcp.ConnectionConfig{
		Transport: "sse",
		ServerURL: cfg.URL,
		Timeout:   cfg.ConnectTimeout(),
	}
	var opts []mcp.ToolSetOption
	if len(toolNames) > 0 {
		opts = append(opts, mcp.WithToolFilterFunc(tool.NewIncludeToolNamesFilter(toolNames...)))
	}
	return mcp.NewMCPToolSet(conn, opts...)
}
