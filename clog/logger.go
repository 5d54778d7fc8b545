package clog

import "context"

// Logger 日志接口
//
// 每个级别都有带 Context 和不带 Context 的版本，带 Context 的版本会
// 按选项提取 request_id、trace_id 等字段。
//
// 创建子 Logger：
//
//	childLogger := logger.With(clog.String("namespace_id", id))
//	componentLogger := logger.WithNamespace("discovery")
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建一个带有预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 创建一个扩展命名空间的子 Logger
	//
	// 示例：
	//   logger := clog.WithNamespace("cloudmap-sd")
	//   logger.WithNamespace("cloudmap") // 命名空间为 "cloudmap-sd.cloudmap"
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整日志级别，对所有共享同一 handler 的子 Logger 生效
	SetLevel(level Level) error

	// Flush 同步缓冲区，输出为文件时调用 Sync
	Flush()
}
