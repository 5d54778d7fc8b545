// Package ratelimit 提供令牌桶限流，支持单机和分布式两种驱动。
//
// cloudmap-sd 用它约束对 Cloud Map API 的调用速率：每次分页请求前
// 以操作名为键调用 Wait。多个副本共享同一 AWS 账号配额时应使用分布式驱动。
//
// 基本使用：
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverStandalone})
//	defer limiter.Close()
//
//	if err := limiter.Wait(ctx, "ListInstances", ratelimit.Limit{Rate: 20, Burst: 40}); err != nil {
//	    return err
//	}
//
// 分布式模式：
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverDistributed},
//	    ratelimit.WithRedisConnector(redisConn),
//	    ratelimit.WithLogger(logger),
//	)
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/metrics"
)

// Limit 令牌桶规则
type Limit struct {
	Rate  float64 `mapstructure:"rate"`  // 每秒生成的令牌数
	Burst int     `mapstructure:"burst"` // 桶容量
}

// Valid 规则是否有效
func (l Limit) Valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// Limiter 限流器
type Limiter interface {
	// Allow 尝试获取 1 个令牌（非阻塞）
	Allow(ctx context.Context, key string, limit Limit) (bool, error)

	// AllowN 尝试获取 N 个令牌（非阻塞）
	AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error)

	// Wait 阻塞直到获取 1 个令牌或 ctx 结束
	Wait(ctx context.Context, key string, limit Limit) error

	// Close 释放限流器自身持有的资源
	Close() error
}

// 驱动类型
const (
	DriverStandalone  = "standalone"
	DriverDistributed = "distributed"
)

// Config 限流配置
//
// Driver 为空时不限流。
type Config struct {
	Driver string  `mapstructure:"driver"` // standalone|distributed|""
	Rate   float64 `mapstructure:"rate"`   // 出站（Cloud Map API）每秒令牌数
	Burst  int     `mapstructure:"burst"`  // 出站桶容量

	// Inbound 对 /cloudmap_sd 请求按客户端 IP 限流，Rate 为 0 时关闭
	Inbound Limit `mapstructure:"inbound"`

	Prefix          string        `mapstructure:"prefix"`           // 分布式模式 Redis Key 前缀
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 单机模式清理间隔
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`     // 单机模式空闲超时
}

// Limit 返回出站规则
func (c *Config) Limit() Limit {
	return Limit{Rate: c.Rate, Burst: c.Burst}
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "ratelimit:"
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

// New 按驱动创建限流器
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	opt.applyDefaults()

	switch strings.ToLower(cfg.Driver) {
	case "":
		return Discard(), nil
	case DriverStandalone:
		opt.logger.Info("creating standalone rate limiter")
		return newStandalone(cfg, opt.logger, opt.meter), nil
	case DriverDistributed:
		if opt.redisConn == nil {
			return nil, ErrConnectorNil
		}
		opt.logger.Info("creating distributed rate limiter", clog.String("prefix", cfg.Prefix))
		return newDistributed(cfg, opt.redisConn, opt.logger, opt.meter), nil
	default:
		return nil, ErrUnknownDriver
	}
}

// recorder 记录 allowed/denied 指标
type recorder struct {
	mode    string
	allowed metrics.Counter
	denied  metrics.Counter
}

func newRecorder(meter metrics.Meter, mode string) *recorder {
	r := &recorder{mode: mode}
	r.allowed, _ = meter.Counter(MetricAllowed, "Number of allowed rate limit checks.")
	r.denied, _ = meter.Counter(MetricDenied, "Number of denied rate limit checks.")
	return r
}

func (r *recorder) observe(ctx context.Context, allowed bool) {
	if allowed {
		if r.allowed != nil {
			r.allowed.Inc(ctx, metrics.L(LabelMode, r.mode))
		}
		return
	}
	if r.denied != nil {
		r.denied.Inc(ctx, metrics.L(LabelMode, r.mode))
	}
}
