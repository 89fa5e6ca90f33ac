// Package driver 顺序提交查询并按固定格式打印结果。
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"OpenMCP-Triage/internal/agents"
	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/history"
	"OpenMCP-Triage/internal/inbox"
	"OpenMCP-Triage/internal/observability/metrics"
	"OpenMCP-Triage/pkg/logger"

	"github.com/google/uuid"
)

// Style 决定结果的打印格式。
type Style int

const (
	// StyleRunning 先打印 "Running: <query>"，再打印回答，查询之间空两行。
	StyleRunning Style = iota
	// StyleBatch 打印 Input/Output 两行和一条分隔线。
	StyleBatch
)

const separatorWidth = 60

// Option 配置 Driver。
type Option func(*Driver)

// WithOutput 设置结果输出位置，默认标准输出。
func WithOutput(w io.Writer) Option {
	return func(d *Driver) {
		if w != nil {
			d.out = w
		}
	}
}

// WithStyle 设置打印格式。
func WithStyle(style Style) Option {
	return func(d *Driver) { d.style = style }
}

// WithContinueOnError 让某条查询失败后继续处理后续查询。
func WithContinueOnError(enabled bool) Option {
	return func(d *Driver) { d.continueOnError = enabled }
}

// WithHistory 设置运行记录仓库，nil 表示不记录。
func WithHistory(repo history.Repository) Option {
	return func(d *Driver) { d.history = repo }
}

// WithClassifier 设置用于比对路由结果的分类器。
func WithClassifier(c agents.Classifier) Option {
	return func(d *Driver) { d.classifier = c }
}

// WithRoles 设置角色定义，用于把应答智能体映射回路由。
func WithRoles(roles agents.Roles) Option {
	return func(d *Driver) { d.roles = roles }
}

// WithTimeout 为单条查询设置超时，0 表示不限制。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Driver) { d.timeout = timeout }
}

// WithTraceID 把追踪 ID 写入运行记录。
func WithTraceID(traceID string) Option {
	return func(d *Driver) { d.traceID = traceID }
}

// WithDriverName 设置指标中的驱动名称。
func WithDriverName(name string) Option {
	return func(d *Driver) {
		if name != "" {
			d.name = name
		}
	}
}

// Driver 串行执行查询，同一时间只有一条查询在运行。
type Driver struct {
	submitter       Submitter
	out             io.Writer
	style           Style
	continueOnError bool
	history         history.Repository
	classifier      agents.Classifier
	roles           agents.Roles
	timeout         time.Duration
	traceID         string
	name            string
	logger          *slog.Logger

	handled int
}

// New 创建 Driver。
func New(submitter Submitter, opts ...Option) *Driver {
	d := &Driver{
		submitter:  submitter,
		out:        os.Stdout,
		style:      StyleRunning,
		classifier: agents.NewClassifier(),
		roles:      agents.DefaultRoles(),
		name:       "triage",
		logger:     logger.Named("driver"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("driver", d.name)
	return d
}

// Run 依次处理 queries。未开启 ContinueOnError 时第一条失败即返回。
func (d *Driver) Run(ctx context.Context, queries []string) error {
	var failures []error
	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Handle(ctx, query); err != nil {
			if !d.continueOnError {
				return err
			}
			failures = append(failures, fmt.Errorf("%q: %w", query, err))
		}
	}
	return errors.Join(failures...)
}

// Serve 从队列中逐条消费查询，直到队列关闭或 ctx 结束。
func (d *Driver) Serve(ctx context.Context, queue inbox.Queue) error {
	if queue == nil {
		return errors.New("driver: 未配置查询队列")
	}
	return queue.Consume(ctx, d.Handle)
}

// Handle 处理单条查询：提交、打印、记录指标与历史。
func (d *Driver) Handle(ctx context.Context, query string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var expected agents.Route
	if d.classifier != nil {
		expected = d.classifier.Classify(query)
	}

	if d.style == StyleRunning {
		d.printRunning(query)
	}

	start := time.Now()
	res, err := d.submitter.Submit(ctx, query)
	res.Query = query
	res.Expected = expected
	res.Duration = time.Since(start)
	if res.Route == "" && res.Agent != "" {
		if route, ok := d.roles.RouteOf(res.Agent); ok {
			res.Route = route
		}
	}

	metrics.ObserveQuery(string(res.Route), res.Agent, res.Duration, err)
	d.checkRoute(res)
	d.print(res, err)
	d.record(ctx, res, err)
	d.handled++

	if err != nil {
		attrs := append([]any{"query", query, "agent", res.Agent, "error", err}, xerrors.LogAttrs(err)...)
		d.logger.Log(ctx, xerrors.LogLevel(err), "查询执行失败", attrs...)
		return err
	}
	d.logger.Info("查询完成", "route", res.Route, "agent", res.Agent, "duration", res.Duration)
	return nil
}

// checkRoute 记录路由异常：路由智能体自己作答，或应答叶子与规则分类不一致。
func (d *Driver) checkRoute(res Result) {
	if res.Agent != "" && res.Agent == d.roles.Router.Name {
		metrics.ObserveRouteMismatch(string(res.Expected), res.Agent)
		d.logger.Warn("路由智能体没有转交叶子，直接给出了回答",
			"query", res.Query, "expected", res.Expected, "agent", res.Agent)
		return
	}
	if res.Expected == "" || res.Route == "" || res.Expected == res.Route {
		return
	}
	metrics.ObserveRouteMismatch(string(res.Expected), res.Agent)
	d.logger.Warn("路由结果与规则分类不一致",
		"query", res.Query, "expected", res.Expected, "route", res.Route, "agent", res.Agent)
}

func (d *Driver) printRunning(query string) {
	if d.handled > 0 {
		fmt.Fprint(d.out, "\n\n")
	}
	fmt.Fprintf(d.out, "Running: %s\n", query)
}

func (d *Driver) print(res Result, err error) {
	output := res.Output
	if err != nil {
		output = "error: " + err.Error()
	}
	switch d.style {
	case StyleBatch:
		fmt.Fprintf(d.out, "Input: %s\n", res.Query)
		fmt.Fprintf(d.out, "Output: %s\n", output)
		fmt.Fprintln(d.out, strings.Repeat("-", separatorWidth))
	default:
		if err != nil {
			return
		}
		fmt.Fprintln(d.out, output)
	}
}

func (d *Driver) record(ctx context.Context, res Result, err error) {
	if d.history == nil {
		return
	}
	rec := history.Record{
		ID:         uuid.NewString(),
		TraceID:    d.traceID,
		Query:      res.Query,
		Route:      string(res.Route),
		Agent:      res.Agent,
		Output:     res.Output,
		DurationMS: res.Duration.Milliseconds(),
		CreatedAt:  time.Now().Unix(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// 查询本身可能已超时，写入历史使用独立的上下文。
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if saveErr := d.history.Save(saveCtx, rec); saveErr != nil {
		d.logger.Warn("写入运行记录失败", "error", saveErr)
	}
}
