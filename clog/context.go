package clog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

// RequestIDKey 请求标识在 Context 中的键
const RequestIDKey contextKey = "request_id"

// NamespaceKey 命名空间字段名
const NamespaceKey = "namespace"

// WithRequestID 将请求标识写入 Context，配合 WithStandardContext 使用
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFrom 从 Context 中读取请求标识，不存在时返回空字符串
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// extractContextFields 按规则从 ctx 中提取字段追加到 attrs
func extractContextFields(ctx context.Context, o *options, attrs *[]slog.Attr) {
	if ctx == nil || o == nil {
		return
	}

	for _, cf := range o.contextFields {
		val := ctx.Value(cf.Key)
		if val == nil {
			continue
		}
		if s, ok := val.(string); ok {
			if s == "" {
				continue
			}
			*attrs = append(*attrs, slog.String(cf.FieldName, s))
			continue
		}
		*attrs = append(*attrs, slog.String(cf.FieldName, fmt.Sprint(val)))
	}

	if o.enableTraceExtraction {
		sc := trace.SpanContextFromContext(ctx)
		if sc.IsValid() {
			*attrs = append(*attrs,
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
}

// addNamespaceField 追加命名空间字段
func addNamespaceField(o *options, attrs *[]slog.Attr) {
	if o == nil || len(o.namespaceParts) == 0 {
		return
	}
	*attrs = append(*attrs, slog.String(NamespaceKey, strings.Join(o.namespaceParts, ".")))
}
