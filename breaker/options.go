package breaker

import (
	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/metrics"
)

// Option 组件初始化选项
type Option func(*options)

type options struct {
	logger       clog.Logger
	meter        metrics.Meter
	isSuccessful func(error) bool
}

// WithLogger 设置 Logger，内部自动添加 namespace "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithIsSuccessful 设置错误判定函数
//
// 返回 true 的错误不计入失败，例如鉴权错误或调用方取消。
// 未设置时任何非 nil 错误都计为失败。
func WithIsSuccessful(fn func(err error) bool) Option {
	return func(o *options) {
		o.isSuccessful = fn
	}
}

func (o *options) applyDefaults() {
	if o.logger == nil {
		o.logger = clog.Discard()
	}
	if o.meter == nil {
		o.meter = metrics.Discard()
	}
	if o.isSuccessful == nil {
		o.isSuccessful = func(err error) bool { return err == nil }
	}
}
