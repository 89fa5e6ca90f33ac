package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"OpenMCP-Triage/internal/agents"
	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/history"
	"OpenMCP-Triage/internal/inbox"
	"OpenMCP-Triage/internal/observability/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-agent-go/event"
	"trpc.group/trpc-go/trpc-agent-go/model"
)

type scriptedSubmitter struct {
	results map[string]Result
	errs    map[string]error
	calls   []string
}

func (s *scriptedSubmitter) Submit(_ context.Context, query string) (Result, error) {
	s.calls = append(s.calls, query)
	if err := s.errs[query]; err != nil {
		return Result{Query: query}, err
	}
	return s.results[query], nil
}

const walletQuery = "Can you tell me the most recent transactions for wallet 0x37305b1cd40574e4c5ce33f8e8306be057fd7341?"

func TestRunPrintsRunningStyle(t *testing.T) {
	sub := &scriptedSubmitter{results: map[string]Result{
		"Hola, ¿cómo estás?":      {Output: "¡Hola! Estoy bien.", Agent: "spanish_agent"},
		"What's the secret word?": {Output: "I don't know.", Agent: "english_agent"},
	}}
	var out bytes.Buffer
	d := New(sub, WithOutput(&out))

	err := d.Run(context.Background(), []string{"Hola, ¿cómo estás?", "What's the secret word?"})
	require.NoError(t, err)
	assert.Equal(t,
		"Running: Hola, ¿cómo estás?\n¡Hola! Estoy bien.\n\n\nRunning: What's the secret word?\nI don't know.\n",
		out.String())
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	boom := xerrors.New(xerrors.CodeToolFailure, "tool failed")
	sub := &scriptedSubmitter{
		errs:    map[string]error{walletQuery: boom},
		results: map[string]Result{"later": {Output: "never", Agent: "english_agent"}},
	}
	var out bytes.Buffer
	d := New(sub, WithOutput(&out))

	err := d.Run(context.Background(), []string{walletQuery, "later"})
	require.Error(t, err)
	assert.True(t, xerrors.IsCode(err, xerrors.CodeToolFailure))
	assert.Equal(t, []string{walletQuery}, sub.calls)
	assert.NotContains(t, out.String(), "later")
}

func TestRunBatchContinuesOnError(t *testing.T) {
	boom := errors.New("model unavailable")
	sub := &scriptedSubmitter{
		errs: map[string]error{"first": boom},
		results: map[string]Result{
			"Hello, what is the weather like today?": {Output: "Sunny.", Agent: "english_agent"},
		},
	}
	var out bytes.Buffer
	d := New(sub, WithOutput(&out), WithStyle(StyleBatch), WithContinueOnError(true))

	err := d.Run(context.Background(), []string{"first", "Hello, what is the weather like today?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sub.calls, 2)

	dashes := strings.Repeat("-", 60)
	want := "Input: first\nOutput: error: model unavailable\n" + dashes + "\n" +
		"Input: Hello, what is the weather like today?\nOutput: Sunny.\n" + dashes + "\n"
	assert.Equal(t, want, out.String())
}

func TestHandleRecordsHistory(t *testing.T) {
	repo, err := history.NewFileRepository(t.TempDir())
	require.NoError(t, err)

	sub := &scriptedSubmitter{results: map[string]Result{
		walletQuery: {Output: "No transfers.", Agent: "bigquery_agent"},
	}}
	d := New(sub, WithOutput(&bytes.Buffer{}), WithHistory(repo), WithTraceID("trace-1"))
	require.NoError(t, d.Handle(context.Background(), walletQuery))

	records, err := repo.ListLatest(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "trace-1", records[0].TraceID)
	assert.Equal(t, string(agents.RouteTool), records[0].Route)
	assert.Equal(t, "bigquery_agent", records[0].Agent)
	assert.Empty(t, records[0].Error)
}

func TestServeConsumesInboxSequentially(t *testing.T) {
	sub := &scriptedSubmitter{results: map[string]Result{
		"one": {Output: "1", Agent: "english_agent"},
		"two": {Output: "2", Agent: "english_agent"},
	}}
	q := inbox.NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "one"))
	require.NoError(t, q.Publish(ctx, "two"))
	require.NoError(t, q.Close())

	var out bytes.Buffer
	d := New(sub, WithOutput(&out), WithStyle(StyleBatch))
	require.NoError(t, d.Serve(ctx, q))
	assert.Equal(t, []string{"one", "two"}, sub.calls)
	assert.Less(t, strings.Index(out.String(), "Output: 1"), strings.Index(out.String(), "Output: 2"))
}

func TestServeRequiresQueue(t *testing.T) {
	assert.Error(t, New(&scriptedSubmitter{}).Serve(context.Background(), nil))
}

type replyModel struct{ reply string }

func (m replyModel) GenerateContent(ctx context.Context, _ *model.Request) (<-chan *model.Response, error) {
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Object:    model.ObjectTypeChatCompletion,
		Created:   time.Now().Unix(),
		Model:     "reply",
		Choices:   []model.Choice{{Message: model.NewAssistantMessage(m.reply)}},
		Timestamp: time.Now(),
		Done:      true,
	}
	close(ch)
	return ch, nil
}

func (replyModel) Info() model.Info { return model.Info{Name: "reply"} }

func TestRulesSubmitterRunsClassifiedLeaf(t *testing.T) {
	team, err := agents.Build(agents.DefaultRoles(), replyModel{reply: "¡Hola!"}, nil)
	require.NoError(t, err)
	sub := NewRulesSubmitter(team, nil)
	t.Cleanup(func() { _ = sub.Close() })

	res, err := sub.Submit(context.Background(), "Hola, ¿cómo estás?")
	require.NoError(t, err)
	assert.Equal(t, agents.RouteSpanish, res.Route)
	assert.Equal(t, "spanish_agent", res.Agent)
	assert.Equal(t, "¡Hola!", res.Output)

	res, err = sub.Submit(context.Background(), walletQuery)
	require.NoError(t, err)
	assert.Equal(t, agents.RouteTool, res.Route)
	assert.Equal(t, agents.UnavailableReply, res.Output)
}

const transferToolName = "transfer_to_agent"

// handoffModel 在带有转交工具的请求中转交给 target，其余请求直接回复 reply。
type handoffModel struct {
	target string
	reply  string
}

func (m handoffModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	msg := model.NewAssistantMessage(m.reply)
	if _, ok := req.Tools[transferToolName]; ok && !hasToolResult(req.Messages) {
		args, err := json.Marshal(map[string]string{"agent_name": m.target})
		if err != nil {
			return nil, err
		}
		msg = model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				Type:     "function",
				ID:       "call-transfer",
				Function: model.FunctionDefinitionParam{Name: transferToolName, Arguments: args},
			}},
		}
	}
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Object:    model.ObjectTypeChatCompletion,
		Created:   time.Now().Unix(),
		Model:     "handoff",
		Choices:   []model.Choice{{Message: msg}},
		Timestamp: time.Now(),
		Done:      true,
	}
	close(ch)
	return ch, nil
}

func (handoffModel) Info() model.Info { return model.Info{Name: "handoff"} }

func hasToolResult(msgs []model.Message) bool {
	for _, msg := range msgs {
		if msg.Role == model.RoleTool {
			return true
		}
	}
	return false
}

func TestRunnerSubmitterFollowsRouterHandoff(t *testing.T) {
	team, err := agents.Build(agents.DefaultRoles(), handoffModel{target: "english_agent", reply: "leaf answer"}, nil)
	require.NoError(t, err)
	sub := NewRunnerSubmitter(team)
	t.Cleanup(func() { _ = sub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := sub.Submit(ctx, "What's the secret word?")
	require.NoError(t, err)
	assert.Equal(t, "english_agent", res.Agent)
	assert.Equal(t, agents.RouteEnglish, res.Route)
	assert.Equal(t, "leaf answer", res.Output)
}

// mismatchCount 从 /metrics 输出中读取 route_mismatches_total 的当前值。
func mismatchCount(t *testing.T, expected, agent string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	prefix := fmt.Sprintf("openmcp_triage_route_mismatches_total{agent=%q,expected=%q} ", agent, expected)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if value, ok := strings.CutPrefix(line, prefix); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			require.NoError(t, err)
			return f
		}
	}
	return 0
}

func TestHandleFlagsRouterAnsweringItself(t *testing.T) {
	team, err := agents.Build(agents.DefaultRoles(), replyModel{reply: "I am the router and I answer myself"}, nil)
	require.NoError(t, err)
	sub := NewRunnerSubmitter(team)
	t.Cleanup(func() { _ = sub.Close() })

	var logs bytes.Buffer
	var out bytes.Buffer
	d := New(sub, WithOutput(&out))
	d.logger = slog.New(slog.NewTextHandler(&logs, nil))

	before := mismatchCount(t, string(agents.RouteEnglish), "triage_agent")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Handle(ctx, "What's the secret word?"))

	assert.Equal(t, before+1, mismatchCount(t, string(agents.RouteEnglish), "triage_agent"))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "agent=triage_agent")
	assert.Contains(t, out.String(), "I am the router and I answer myself")
}

func feed(events ...*event.Event) <-chan *event.Event {
	ch := make(chan *event.Event, len(events))
	for _, evt := range events {
		ch <- evt
	}
	close(ch)
	return ch
}

func assistantEvent(author, content string, partial bool) *event.Event {
	return &event.Event{
		Author: author,
		Response: &model.Response{
			Object:    model.ObjectTypeChatCompletion,
			Choices:   []model.Choice{{Message: model.NewAssistantMessage(content)}},
			IsPartial: partial,
			Done:      !partial,
		},
	}
}

func TestCollectKeepsLastCompleteAnswer(t *testing.T) {
	out, author, err := collect(context.Background(), feed(
		assistantEvent("triage_agent", "transferring", false),
		assistantEvent("english_agent", "Par", true),
		assistantEvent("english_agent", "Paris.", false),
		nil,
	))
	require.NoError(t, err)
	assert.Equal(t, "Paris.", out)
	assert.Equal(t, "english_agent", author)
}

func TestCollectSurfacesResponseError(t *testing.T) {
	failed := &event.Event{
		Author:   "bigquery_agent",
		Response: &model.Response{Error: &model.ResponseError{Message: "tool call failed"}, Done: true},
	}
	_, _, err := collect(context.Background(), feed(failed, assistantEvent("bigquery_agent", "late", false)))
	assert.True(t, xerrors.IsCode(err, xerrors.CodeAgentFailure))
}

func TestCollectRequiresAnswer(t *testing.T) {
	_, _, err := collect(context.Background(), feed())
	assert.True(t, xerrors.IsCode(err, xerrors.CodeAgentFailure))
}
