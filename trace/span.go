package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ceyewan/cloudmap-sd"

// Tracer 返回项目统一的 Tracer，跟随全局 Provider
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRegistrySpan 为一次注册中心列表调用创建 Client Span
func StartRegistrySpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	base := []attribute.KeyValue{
		attribute.String(AttrRegistrySystem, RegistrySystemCloudMap),
		attribute.String(AttrRegistryOperation, operation),
	}
	return Tracer().Start(ctx, SpanNameRegistry(operation),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(append(base, attrs...)...),
	)
}

// StartDiscoverySpan 为一次发现流程创建 Internal Span
func StartDiscoverySpan(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, SpanNameDiscover,
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		oteltrace.WithAttributes(attrs...),
	)
}

// End 根据 err 设置 Span 状态后结束 Span
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
