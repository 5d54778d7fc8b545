package config

import (
	"context"
	"strings"

	"github.com/ceyewan/cloudmap-sd/breaker"
	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/cloudmap"
	"github.com/ceyewan/cloudmap-sd/connector"
	"github.com/ceyewan/cloudmap-sd/discovery"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
	"github.com/ceyewan/cloudmap-sd/server"
	"github.com/ceyewan/cloudmap-sd/trace"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// AppConfig 聚合各组件的配置
type AppConfig struct {
	Server    server.Config         `mapstructure:"server"`
	AWS       cloudmap.Config       `mapstructure:"aws"`
	Discovery discovery.Config      `mapstructure:"discovery"`
	RateLimit ratelimit.Config      `mapstructure:"ratelimit"`
	Redis     connector.RedisConfig `mapstructure:"redis"`
	Breaker   breaker.Config        `mapstructure:"breaker"`
	Log       clog.Config           `mapstructure:"log"`
	Metrics   metrics.Config        `mapstructure:"metrics"`
	Trace     trace.Config          `mapstructure:"trace"`
}

// defaults 内置默认值，key 使用 "." 分隔的配置路径
func defaults() map[string]any {
	return map[string]any{
		"server.host":                "0.0.0.0",
		"server.port":                3030,
		"server.read_header_timeout": "5s",
		"server.shutdown_timeout":    "10s",

		"aws.region":       "",
		"aws.endpoint":     "",
		"aws.max_attempts": 3,
		"aws.max_backoff":  "5s",
		"aws.page_size":    100,

		"discovery.namespace":      "",
		"discovery.concurrency":    8,
		"discovery.failure_policy": string(discovery.FailurePolicyPartial),
		"discovery.timeout":        "25s",
		"discovery.address_keys":   discovery.DefaultAddressKeys,
		"discovery.port_keys":      discovery.DefaultPortKeys,
		"discovery.extra_labels":   false,

		"ratelimit.driver":           "standalone",
		"ratelimit.rate":             20.0,
		"ratelimit.burst":            40,
		"ratelimit.prefix":           "cloudmap-sd:ratelimit:",
		"ratelimit.cleanup_interval": "1m",
		"ratelimit.idle_timeout":     "5m",

		"redis.addr":     "",
		"redis.password": "",
		"redis.db":       0,

		"breaker.enabled":          true,
		"breaker.max_requests":     8,
		"breaker.interval":         "60s",
		"breaker.timeout":          "30s",
		"breaker.failure_ratio":    0.6,
		"breaker.minimum_requests": 5,

		"log.level":  "info",
		"log.format": "json",
		"log.output": "stdout",

		"metrics.enabled":         true,
		"metrics.service_name":    "cloudmap-sd",
		"metrics.version":         "",
		"metrics.runtime_metrics": true,

		"trace.enabled":      false,
		"trace.service_name": "cloudmap-sd",
		"trace.endpoint":     "localhost:4317",
		"trace.insecure":     true,
		"trace.sampler":      1.0,
		"trace.batcher":      "batch",
	}
}

// Validate 校验聚合配置
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return validationError("server.port %d out of range", c.Server.Port)
	}
	if err := c.Discovery.Validate(); err != nil {
		return xerrors.Combine(ErrValidationFailed, err)
	}
	switch strings.ToLower(c.RateLimit.Driver) {
	case "", "standalone":
	case "distributed":
		if c.Redis.Addr == "" {
			return validationError("ratelimit.driver=distributed requires redis.addr")
		}
	default:
		return validationError("unknown ratelimit.driver %q", c.RateLimit.Driver)
	}
	if c.RateLimit.Driver != "" && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return validationError("ratelimit.rate and ratelimit.burst must be positive")
	}
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return validationError("breaker.failure_ratio must be within [0, 1]")
	}
	if c.Trace.Sampler < 0 || c.Trace.Sampler > 1 {
		return validationError("trace.sampler must be within [0, 1]")
	}
	return nil
}

// LoadApp 创建加载器、加载全部来源并反序列化为 AppConfig
func LoadApp(ctx context.Context, opts ...Option) (*AppConfig, error) {
	l, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := l.Load(ctx); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := l.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
