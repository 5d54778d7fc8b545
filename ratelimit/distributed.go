package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/connector"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// luaScript 基于时间戳的令牌桶（GCRA）
//
// KEYS[1]: 限流键
// ARGV[1]: rate
// ARGV[2]: capacity
// ARGV[3]: now（秒，浮点）
// ARGV[4]: 本次消耗的令牌数
//
// 返回 {allowed, remaining, retry_after_ms}
const luaScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local interval = 1 / rate
local fill_time = capacity * interval

local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil then
  tat = now
end
tat = math.max(tat, now)

local new_tat = tat + requested * interval
local allow_at_most = now + fill_time

if new_tat <= allow_at_most then
  redis.call("SET", KEYS[1], new_tat, "EX", math.ceil(fill_time * 2))
  return {1, math.floor((allow_at_most - new_tat) / interval), 0}
end

local retry_after = new_tat - allow_at_most
return {0, math.floor((allow_at_most - tat) / interval), math.ceil(retry_after * 1000)}
`

// maxWaitStep Wait 单次轮询的最长等待
const maxWaitStep = time.Second

type distributedLimiter struct {
	client   *redis.Client
	prefix   string
	logger   clog.Logger
	recorder *recorder
	script   *redis.Script
}

func newDistributed(cfg *Config, redisConn connector.RedisConnector, logger clog.Logger, meter metrics.Meter) *distributedLimiter {
	return &distributedLimiter{
		client:   redisConn.GetClient(),
		prefix:   cfg.Prefix,
		logger:   logger,
		recorder: newRecorder(meter, DriverDistributed),
		script:   redis.NewScript(luaScript),
	}
}

func (l *distributedLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *distributedLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	allowed, _, err := l.take(ctx, key, limit, n)
	return allowed, err
}

// Wait 轮询令牌桶，按脚本返回的 retry_after 休眠
func (l *distributedLimiter) Wait(ctx context.Context, key string, limit Limit) error {
	for {
		allowed, retryAfter, err := l.take(ctx, key, limit, 1)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if retryAfter <= 0 {
			retryAfter = time.Duration(float64(time.Second) / limit.Rate)
		}
		retryAfter = min(retryAfter, maxWaitStep)

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *distributedLimiter) take(ctx context.Context, key string, limit Limit, n int) (bool, time.Duration, error) {
	if err := validate(key, limit, n); err != nil {
		return false, 0, err
	}

	now := float64(time.Now().UnixNano()) / 1e9
	result, err := l.script.Run(ctx, l.client, []string{l.prefix + key}, limit.Rate, limit.Burst, now, n).Result()
	if err != nil {
		l.logger.Error("failed to execute rate limit script", clog.String("key", key), clog.Error(err))
		return false, 0, xerrors.Wrap(err, "execute rate limit script")
	}

	values, ok := result.([]any)
	if !ok || len(values) != 3 {
		return false, 0, xerrors.New("invalid rate limit script result")
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryMs, _ := values[2].(int64)

	isAllowed := allowed == 1
	l.recorder.observe(ctx, isAllowed)
	l.logger.Debug("rate limit check",
		clog.String("key", key),
		clog.Bool("allowed", isAllowed),
		clog.Int64("remaining", remaining),
		clog.Int("requested", n))

	return isAllowed, time.Duration(retryMs) * time.Millisecond, nil
}

// Close 连接由 Connector 管理，这里不做处理
func (l *distributedLimiter) Close() error {
	return nil
}
