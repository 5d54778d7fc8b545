// Package cloudmap 封装 AWS Cloud Map 的三个分页列表操作。
//
// Client 对外只暴露已经完整翻页的结果：ListNamespaces、ListServices、
// ListInstances 内部通过 Pager 逐页拉取直到 NextToken 耗尽。每一页请求
// 依次经过限流器和熔断器，瞬时错误的重试由 SDK 标准 Retryer 负责，
// 最终失败统一包装为 *Error，按 Kind 区分鉴权、限流、不可用和未知错误。
//
// 基本使用：
//
//	client, err := cloudmap.New(ctx, &cloudmap.Config{Region: "us-east-1"},
//	    cloudmap.WithLogger(logger),
//	    cloudmap.WithLimiter(limiter, ratelimit.Limit{Rate: 20, Burst: 40}),
//	    cloudmap.WithBreaker(brk),
//	)
//	if err != nil {
//	    return err
//	}
//	namespaces, err := client.ListNamespaces(ctx)
package cloudmap

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/servicediscovery"
)

// 注册中心操作名，同时用作限流键、熔断键和指标标签
const (
	OpListNamespaces = "ListNamespaces"
	OpListServices   = "ListServices"
	OpListInstances  = "ListInstances"
)

// UnknownName 注册中心未返回命名空间或服务名称时使用的占位名
const UnknownName = "unknown"

// Namespace Cloud Map 命名空间
type Namespace struct {
	ID   string
	Name string
	Type string // DNS_PUBLIC / DNS_PRIVATE / HTTP
}

// Service 命名空间下注册的服务
type Service struct {
	ID          string
	Name        string
	NamespaceID string
}

// Instance 服务下的一个实例
//
// Attributes 的键由注册方决定，读取时必须容忍缺失。
type Instance struct {
	ID         string
	ServiceID  string
	Attributes map[string]string
}

// API 是 Client 依赖的 SDK 方法子集，*servicediscovery.Client 满足该接口
type API interface {
	servicediscovery.ListNamespacesAPIClient
	servicediscovery.ListServicesAPIClient
	servicediscovery.ListInstancesAPIClient
}

// Config AWS 客户端配置
type Config struct {
	// Region 为空时沿用 SDK 默认解析链（环境变量、共享配置、IMDS）
	Region string `mapstructure:"region"`

	// Endpoint 覆盖服务端点，用于 LocalStack 等本地环境
	Endpoint string `mapstructure:"endpoint"`

	// MaxAttempts SDK 标准 Retryer 的最大尝试次数（含首次）
	MaxAttempts int `mapstructure:"max_attempts"`

	// MaxBackoff 单次重试的最大退避时间
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// PageSize 每页条数，Cloud Map 上限为 100
	PageSize int32 `mapstructure:"page_size"`
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		c.PageSize = 100
	}
}
