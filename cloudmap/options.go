package cloudmap

import (
	"github.com/ceyewan/cloudmap-sd/breaker"
	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
)

// Option 组件初始化选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	limiter ratelimit.Limiter
	limit   ratelimit.Limit
	breaker breaker.Breaker
}

// WithLogger 设置 Logger，内部自动添加 namespace "cloudmap"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("cloudmap")
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithLimiter 每页请求前以操作名为键等待 limit 规则的令牌
func WithLimiter(limiter ratelimit.Limiter, limit ratelimit.Limit) Option {
	return func(o *options) {
		o.limiter = limiter
		o.limit = limit
	}
}

// WithBreaker 每页请求在以操作名为键的熔断器内执行
func WithBreaker(brk breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = brk
	}
}

func (o *options) applyDefaults() {
	if o.logger == nil {
		o.logger = clog.Discard()
	}
	if o.meter == nil {
		o.meter = metrics.Discard()
	}
	if o.limiter == nil || !o.limit.Valid() {
		o.limiter = ratelimit.Discard()
	}
	if o.breaker == nil {
		o.breaker = breaker.Discard()
	}
}
