package metrics

import "github.com/ceyewan/cloudmap-sd/clog"

// Config 指标配置
//
// 典型配置示例（YAML）：
//
//	metrics:
//	  enabled: true
//	  service_name: "cloudmap-sd"
//	  runtime_metrics: true
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter，且不挂载 /metrics 路由
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 作为 Resource 的 service.name 属性
	ServiceName string `mapstructure:"service_name"`

	// Version 作为 Resource 的 service.version 属性
	Version string `mapstructure:"version"`

	// RuntimeMetrics 是否采集 Go 运行时指标
	RuntimeMetrics bool `mapstructure:"runtime_metrics"`
}

// Option 配置 Meter 的选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 注入日志记录器，自动追加 metrics 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("metrics")
		}
	}
}
