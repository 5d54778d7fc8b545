package connector

import "github.com/ceyewan/cloudmap-sd/clog"

type options struct {
	logger         clog.Logger
	disableTracing bool
	disableMetrics bool
}

// Option 配置连接器的选项
type Option func(*options)

// WithLogger 设置日志记录器，自动追加 connector 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("connector")
		}
	}
}

// WithoutInstrumentation 关闭 redisotel 的链路与指标插桩
func WithoutInstrumentation() Option {
	return func(o *options) {
		o.disableTracing = true
		o.disableMetrics = true
	}
}

func (o *options) applyDefaults() {
	if o.logger == nil {
		o.logger = clog.Discard()
	}
}
