// Package breaker 提供按键隔离的熔断器，基于 sony/gobreaker/v2。
//
// cloudmap-sd 以 Cloud Map 操作名为键，在上游持续不可用时快速失败，
// 避免每次抓取都要等到 AWS SDK 重试耗尽。熔断打开期间返回 ErrOpenState，
// 它包装了 xerrors.ErrUnavailable，HTTP 层据此映射为 503。
//
// 基本使用：
//
//	brk, _ := breaker.New(&breaker.Config{Enabled: true, FailureRatio: 0.6, MinimumRequests: 5},
//	    breaker.WithLogger(logger),
//	    breaker.WithIsSuccessful(func(err error) bool { return !isUpstreamFailure(err) }),
//	)
//
//	_, err := brk.Execute(ctx, "ListInstances", func() (any, error) {
//	    return api.ListInstances(ctx, input)
//	})
package breaker

import (
	"context"
	"time"
)

// Breaker 熔断器
type Breaker interface {
	// Execute 在 key 对应的熔断器保护下执行 fn
	//
	// 熔断打开时不会调用 fn，直接返回 ErrOpenState；
	// 半开状态下试探名额已满时返回 ErrTooManyRequests。
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 返回 key 对应熔断器的当前状态，未创建过的键视为 StateClosed
	State(key string) State
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断配置
type Config struct {
	// Enabled 为 false 时 Execute 直接透传
	Enabled bool `mapstructure:"enabled"`

	// MaxRequests 半开状态下允许通过的最大请求数
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval 闭合状态下清空计数的周期，0 表示不清空
	Interval time.Duration `mapstructure:"interval"`

	// Timeout 打开状态持续多久后转为半开
	Timeout time.Duration `mapstructure:"timeout"`

	// FailureRatio 触发熔断的失败率
	FailureRatio float64 `mapstructure:"failure_ratio"`

	// MinimumRequests 计算失败率前至少需要的请求数
	MinimumRequests uint32 `mapstructure:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 5
	}
}

// New 创建熔断器
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	opt.applyDefaults()

	if !cfg.Enabled {
		return Discard(), nil
	}

	c := *cfg
	c.setDefaults()

	opt.logger.Info("creating circuit breaker")
	return newCircuitBreaker(&c, opt), nil
}
