package driver

import (
	"context"
	"strings"
	"time"

	"OpenMCP-Triage/internal/agents"
	xerrors "OpenMCP-Triage/internal/errors"

	"github.com/google/uuid"
	"trpc.group/trpc-go/trpc-agent-go/event"
	"trpc.group/trpc-go/trpc-agent-go/model"
	"trpc.group/trpc-go/trpc-agent-go/runner"
	"trpc.group/trpc-go/trpc-agent-go/session/inmemory"
)

// AppName 是 runner 使用的应用名。
const AppName = "openmcp-triage"

const defaultUserID = "triage-driver"

// Result 是一次查询的最终输出。
type Result struct {
	Query    string
	Output   string
	Agent    string
	Route    agents.Route
	Expected agents.Route
	Duration time.Duration
}

// Submitter 把一条查询交给智能体并等待最终回答。
type Submitter interface {
	Submit(ctx context.Context, query string) (Result, error)
}

// RunnerSubmitter 把查询交给路由智能体，由模型决定转交给哪个叶子。
type RunnerSubmitter struct {
	runner runner.Runner
	roles  agents.Roles
	userID string
}

// NewRunnerSubmitter 以路由智能体为入口创建 runner。
func NewRunnerSubmitter(team *agents.Team) *RunnerSubmitter {
	return &RunnerSubmitter{
		runner: runner.NewRunner(AppName, team.Router,
			runner.WithSessionService(inmemory.NewSessionService())),
		roles:  team.Roles,
		userID: defaultUserID,
	}
}

// Submit 为每条查询使用新的会话，查询之间不共享上下文。
func (s *RunnerSubmitter) Submit(ctx context.Context, query string) (Result, error) {
	res := Result{Query: query}
	out, author, err := run(ctx, s.runner, s.userID, query)
	if err != nil {
		return res, err
	}
	res.Output = out
	res.Agent = author
	if route, ok := s.roles.RouteOf(author); ok {
		res.Route = route
	}
	return res, nil
}

// Close 释放 runner 持有的资源。
func (s *RunnerSubmitter) Close() error {
	return s.runner.Close()
}

// RulesSubmitter 先用规则分类器选出叶子，再直接运行该叶子。
type RulesSubmitter struct {
	classifier agents.Classifier
	runners    map[agents.Route]runner.Runner
	roles      agents.Roles
	userID     string
}

// NewRulesSubmitter 为每个叶子创建独立的 runner。
func NewRulesSubmitter(team *agents.Team, classifier agents.Classifier) *RulesSubmitter {
	if classifier == nil {
		classifier = agents.NewClassifier()
	}
	sessions := inmemory.NewSessionService()
	runners := make(map[agents.Route]runner.Runner, len(team.Leaves))
	for route, leaf := range team.Leaves {
		runners[route] = runner.NewRunner(AppName, leaf, runner.WithSessionService(sessions))
	}
	return &RulesSubmitter{
		classifier: classifier,
		runners:    runners,
		roles:      team.Roles,
		userID:     defaultUserID,
	}
}

// Submit 实现 Submitter。
func (s *RulesSubmitter) Submit(ctx context.Context, query string) (Result, error) {
	route := s.classifier.Classify(query)
	res := Result{Query: query, Route: route}
	r, ok := s.runners[route]
	if !ok {
		return res, xerrors.New(xerrors.CodeAgentFailure, "没有可处理该路由的智能体",
			xerrors.WithMetadata("route", string(route)))
	}
	out, author, err := run(ctx, r, s.userID, query)
	if err != nil {
		return res, err
	}
	res.Output = out
	res.Agent = author
	if res.Agent == "" {
		if role, ok := s.roles.Leaf(route); ok {
			res.Agent = role.Name
		}
	}
	return res, nil
}

// Close 释放所有叶子 runner。
func (s *RulesSubmitter) Close() error {
	var firstErr error
	for _, r := range s.runners {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func run(ctx context.Context, r runner.Runner, userID, query string) (string, string, error) {
	events, err := r.Run(ctx, userID, uuid.NewString(), model.NewUserMessage(query))
	if err != nil {
		return "", "", xerrors.Wrap(xerrors.CodeAgentFailure, err, "启动智能体失败")
	}
	return collect(ctx, events)
}

// collect 读完整个事件流，返回最后一条完整的助手消息及其作者。
func collect(ctx context.Context, events <-chan *event.Event) (string, string, error) {
	var (
		output, author string
		failure        error
	)
	for evt := range events {
		if evt == nil || evt.Response == nil {
			continue
		}
		if evt.Error != nil {
			if failure == nil {
				failure = xerrors.New(xerrors.CodeAgentFailure, evt.Error.Message,
					xerrors.WithMetadata("agent", evt.Author))
			}
			continue
		}
		if evt.IsPartial || evt.Object != model.ObjectTypeChatCompletion || len(evt.Choices) == 0 {
			continue
		}
		msg := evt.Choices[0].Message
		if msg.Role != model.RoleAssistant || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		output = msg.Content
		author = evt.Author
	}
	if failure != nil {
		return "", author, failure
	}
	if err := ctx.Err(); err != nil {
		return "", author, xerrors.Wrap(xerrors.CodeTimeout, err, "查询被取消或超时")
	}
	if output == "" {
		return "", author, xerrors.New(xerrors.CodeAgentFailure, "智能体没有返回最终回答")
	}
	return output, author, nil
}
