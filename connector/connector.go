// Package connector 管理 cloudmap-sd 使用的外部连接。
//
// 目前只有 Redis：分布式限流在多个副本之间共享令牌桶，
// 使它们共同遵守同一 AWS 账号的 Cloud Map API 配额。
//
// 基本使用：
//
//	conn, err := connector.NewRedis(&cfg.Redis, connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//
// 资源所有权：Connector 拥有底层连接的生命周期，借用它的组件（如 ratelimit）
// 不应调用 Close()。
package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Connector 连接器的通用行为
type Connector interface {
	// Connect 建立连接，可重复调用
	Connect(ctx context.Context) error
	// Close 关闭连接
	Close() error
	// HealthCheck 主动检查连接状态
	HealthCheck(ctx context.Context) error
	// IsHealthy 返回最近一次检查的结果
	IsHealthy() bool
	// Name 连接器名称
	Name() string
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	Connector
	GetClient() *redis.Client
}
