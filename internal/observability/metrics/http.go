package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openmcp_triage"

var (
	registry = prometheus.NewRegistry()

	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Total number of MCP tool invocations.",
	}, []string{"tool", "status"})

	toolLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "MCP tool invocation duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"tool"})

	toolRecords = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_records",
		Help:      "Number of records returned per tool invocation.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
	}, []string{"tool"})

	queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Total number of routed queries.",
	}, []string{"route", "agent", "status"})

	queryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "End to end query duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"route"})

	routeMismatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_mismatches_total",
		Help:      "Queries answered by a different agent than the classifier expected.",
	}, []string{"expected", "agent"})

	inboxMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbox_messages_total",
		Help:      "Queries consumed from the inbox.",
	}, []string{"driver", "status"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		toolCalls, toolLatency, toolRecords,
		queries, queryLatency, routeMismatches,
		inboxMessages,
	)
}

// status 成功时为 ok，失败时为小写的错误码，例如 invalid_argument。
func status(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(xerrors.CodeOf(err)))
}

// ObserveToolCall records one tool invocation.
func ObserveToolCall(tool string, records int, duration time.Duration, err error) {
	toolCalls.WithLabelValues(tool, status(err)).Inc()
	toolLatency.WithLabelValues(tool).Observe(duration.Seconds())
	if err == nil {
		toolRecords.WithLabelValues(tool).Observe(float64(records))
	}
}

// ObserveQuery records one routed query.
func ObserveQuery(route, agent string, duration time.Duration, err error) {
	queries.WithLabelValues(route, agent, status(err)).Inc()
	queryLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveRouteMismatch counts a query whose responder differs from the expected route.
func ObserveRouteMismatch(expected, agent string) {
	routeMismatches.WithLabelValues(expected, agent).Inc()
}

// ObserveInboxMessage counts one consumed inbox message.
func ObserveInboxMessage(driver string, err error) {
	inboxMessages.WithLabelValues(driver, status(err)).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
