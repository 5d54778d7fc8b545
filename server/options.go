package server

import (
	"context"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
)

// Option 组件初始化选项
type Option func(*options)

// ReadinessCheck 就绪检查，返回非 nil 表示未就绪
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

type options struct {
	logger      clog.Logger
	meter       metrics.Meter
	serviceName string
	tracing     bool
	limiter     ratelimit.Limiter
	limit       ratelimit.Limit
	checks      []namedCheck
}

// WithLogger 设置 Logger，内部自动添加 namespace "http"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("http")
		}
	}
}

// WithMeter 挂载 /metrics 路由并记录 HTTP RED 指标
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithServiceName 指标与链路中使用的服务名
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracing 为每个请求创建服务端 Span
func WithTracing() Option {
	return func(o *options) {
		o.tracing = true
	}
}

// WithRateLimit 按客户端 IP 限制 /cloudmap_sd 的请求速率
func WithRateLimit(limiter ratelimit.Limiter, limit ratelimit.Limit) Option {
	return func(o *options) {
		o.limiter = limiter
		o.limit = limit
	}
}

// WithReadinessCheck 追加 /readyz 的检查项
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(o *options) {
		if check != nil {
			o.checks = append(o.checks, namedCheck{name: name, check: check})
		}
	}
}

func (o *options) applyDefaults() {
	if o.logger == nil {
		o.logger = clog.Discard()
	}
	if o.serviceName == "" {
		o.serviceName = "cloudmap-sd"
	}
}
