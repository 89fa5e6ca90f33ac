// Package tracing 封装 OpenTelemetry 的初始化与工作流级别的 span。
package tracing

import (
	"context"
	"fmt"
	"strings"

	"OpenMCP-Triage/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "OpenMCP-Triage"

// Providers 持有 SDK TracerProvider。未配置导出端点时 span 仍然生成 trace id，只是不上报。
type Providers struct {
	tp *sdktrace.TracerProvider
}

// Init 创建 TracerProvider 并注册为全局实现。额外的 options 主要用于测试注入 SpanProcessor。
func Init(ctx context.Context, cfg config.TracingConfig, opts ...sdktrace.TracerProviderOption) (*Providers, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 otel resource 失败: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("创建 trace exporter 失败: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}
	providerOpts = append(providerOpts, opts...)

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Providers{tp: tp}, nil
}

// Shutdown 刷新尚未导出的 span。对 nil 安全。
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭 tracer provider 失败: %w", err)
	}
	return nil
}

// StartWorkflow 开启一个包裹整次运行的根 span，并返回其 trace id。
func StartWorkflow(ctx context.Context, workflow string, attrs ...attribute.KeyValue) (context.Context, trace.Span, string) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, workflow,
		trace.WithNewRoot(),
		trace.WithAttributes(append([]attribute.KeyValue{attribute.String("workflow.name", workflow)}, attrs...)...),
	)
	return ctx, span, TraceID(span)
}

// TraceID 返回 span 的十六进制 trace id，span 无效时返回空串。
func TraceID(span trace.Span) string {
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// ViewLink 根据配置的查看地址拼出 trace 链接。
// 模板中的 {trace_id} 会被替换，否则直接追加 trace id；未配置地址时只返回 trace id。
func ViewLink(viewURL, traceID string) string {
	viewURL = strings.TrimSpace(viewURL)
	switch {
	case viewURL == "":
		return traceID
	case strings.Contains(viewURL, "{trace_id}"):
		return strings.ReplaceAll(viewURL, "{trace_id}", traceID)
	default:
		return viewURL + traceID
	}
}

// RecordError 在 span 上标记错误。
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
