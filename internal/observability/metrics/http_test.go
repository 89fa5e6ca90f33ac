package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveToolCall(t *testing.T) {
	before := testutil.ToFloat64(toolCalls.WithLabelValues("get_latest_transactions", "ok"))
	ObserveToolCall("get_latest_transactions", 3, 20*time.Millisecond, nil)
	ObserveToolCall("get_latest_transactions", 0, time.Millisecond, errors.New("boom"))
	ObserveToolCall("get_latest_transactions", 0, time.Millisecond,
		fmt.Errorf("lookup: %w", xerrors.New(xerrors.CodeQueryFailure, "bigquery denied")))

	assert.Equal(t, before+1, testutil.ToFloat64(toolCalls.WithLabelValues("get_latest_transactions", "ok")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(toolCalls.WithLabelValues("get_latest_transactions", "unknown")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(toolCalls.WithLabelValues("get_latest_transactions", "query_failure")), 1.0)
}

func TestObserveQueryAndMismatch(t *testing.T) {
	ObserveQuery("spanish", "spanish_agent", 2*time.Second, nil)
	ObserveRouteMismatch("tool", "english_agent")
	ObserveInboxMessage("memory", nil)

	assert.GreaterOrEqual(t, testutil.ToFloat64(queries.WithLabelValues("spanish", "spanish_agent", "ok")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(routeMismatches.WithLabelValues("tool", "english_agent")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(inboxMessages.WithLabelValues("memory", "ok")), 1.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveToolCall("get_latest_transactions", 1, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "openmcp_triage_tool_calls_total"), "missing tool counter")
	assert.True(t, strings.Contains(string(body), "openmcp_triage_tool_call_duration_seconds_bucket"), "missing latency histogram")
}
