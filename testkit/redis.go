package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/cloudmap-sd/connector"
)

// RedisAddrEnv 覆盖测试 Redis 地址的环境变量
const RedisAddrEnv = "CLOUDMAP_SD_TEST_REDIS_ADDR"

// GetRedisConfig 返回 Redis 测试配置
// 默认连接 localhost:6379，可通过 CLOUDMAP_SD_TEST_REDIS_ADDR 覆盖
func GetRedisConfig() *connector.RedisConfig {
	addr := os.Getenv(RedisAddrEnv)
	if addr == "" {
		addr = "localhost:6379"
	}
	return &connector.RedisConfig{
		Name:         "test-redis",
		Addr:         addr,
		DB:           1, // 使用 DB 1 避免与默认的 DB 0 冲突
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// GetRedisConnector 获取已连接的 Redis 连接器，连接失败时跳过测试
func GetRedisConnector(t *testing.T) connector.RedisConnector {
	t.Helper()

	conn, err := connector.NewRedis(GetRedisConfig(), connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create redis connector: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		t.Skipf("redis not reachable, skipping: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

// GetRedisClient 获取原生 Redis 客户端
func GetRedisClient(t *testing.T) *redis.Client {
	return GetRedisConnector(t).GetClient()
}
