// Package clog 为 cloudmap-sd 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象 Logger 接口，不暴露底层 slog 实现
//   - 层级命名空间，每个组件在根 Logger 上追加自己的命名空间
//   - 从 Context 中提取 request_id 以及 OpenTelemetry 的 trace_id/span_id
//   - 采用函数式选项模式
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"},
//	    clog.WithNamespace("cloudmap-sd"),
//	    clog.WithStandardContext(),
//	    clog.WithTraceContext(),
//	)
//	logger.Info("server started", clog.String("addr", ":3030"))
package clog

import "fmt"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用开发环境默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig()
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}
