package discovery

import (
	"strings"
	"time"

	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// FailurePolicy 单个列表调用失败时的处理策略
type FailurePolicy string

const (
	// FailurePolicyPartial 跳过失败的命名空间或服务，返回其余结果
	FailurePolicyPartial FailurePolicy = "partial"
	// FailurePolicyStrict 任一列表调用失败即终止整个发现流程
	FailurePolicyStrict FailurePolicy = "strict"
)

// 默认的地址与端口属性键，按顺序取第一个非空值
var (
	DefaultAddressKeys = []string{"AWS_INSTANCE_IPV4", "AWS_INSTANCE_IPV6", "AWS_INSTANCE_CNAME", "IPv4", "ip", "address"}
	DefaultPortKeys    = []string{"AWS_INSTANCE_PORT", "port"}
)

const (
	defaultConcurrency = 8
	defaultTimeout     = 25 * time.Second
)

// Config 发现流程配置，启动时确定，之后只读
type Config struct {
	// Namespace 精确匹配的命名空间过滤器，为空表示全部命名空间
	Namespace string `mapstructure:"namespace"`

	// Concurrency 同时进行中的注册中心调用上限
	Concurrency int `mapstructure:"concurrency"`

	FailurePolicy FailurePolicy `mapstructure:"failure_policy"`

	// Timeout 单次发现流程的总时限，0 表示只受请求上下文约束
	Timeout time.Duration `mapstructure:"timeout"`

	AddressKeys []string `mapstructure:"address_keys"`
	PortKeys    []string `mapstructure:"port_keys"`

	// ExtraLabels 额外输出命名空间 ID、类型和服务 ID 标签
	ExtraLabels bool `mapstructure:"extra_labels"`
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "discovery.concurrency %d must not be negative", c.Concurrency)
	}
	if c.Timeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "discovery.timeout %s must not be negative", c.Timeout)
	}
	switch FailurePolicy(strings.ToLower(string(c.FailurePolicy))) {
	case "", FailurePolicyPartial, FailurePolicyStrict:
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "unknown discovery.failure_policy %q", c.FailurePolicy)
	}
	return nil
}

// normalized 返回填充默认值后的副本，不修改调用方持有的配置
func (c Config) normalized() Config {
	if c.Concurrency == 0 {
		c.Concurrency = defaultConcurrency
	}
	c.FailurePolicy = FailurePolicy(strings.ToLower(string(c.FailurePolicy)))
	if c.FailurePolicy == "" {
		c.FailurePolicy = FailurePolicyPartial
	}
	c.AddressKeys = cleanKeys(c.AddressKeys, DefaultAddressKeys)
	c.PortKeys = cleanKeys(c.PortKeys, DefaultPortKeys)
	return c
}

func cleanKeys(keys, fallback []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
