package tracing

import (
	"context"
	"errors"
	"testing"

	"OpenMCP-Triage/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartWorkflowRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	providers, err := Init(context.Background(), config.TracingConfig{ServiceName: "test"},
		sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	_, span, traceID := StartWorkflow(context.Background(), "SSE Example")
	RecordError(span, errors.New("boom"))
	span.End()

	require.Len(t, traceID, 32)
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "SSE Example", ended[0].Name())
	assert.Equal(t, traceID, ended[0].SpanContext().TraceID().String())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestViewLink(t *testing.T) {
	id := "4bf92f3577b34da6a3ce929d0e0e4736"
	assert.Equal(t, id, ViewLink("", id))
	assert.Equal(t, "https://trace.local/t?trace_id="+id, ViewLink("https://trace.local/t?trace_id={trace_id}", id))
	assert.Equal(t, "https://trace.local/t/"+id, ViewLink("https://trace.local/t/", id))
}
