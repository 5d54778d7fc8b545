package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/metrics"
)

// limiterEntry 包装 rate.Limiter 并记录最后访问时间（UnixNano）
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func (e *limiterEntry) touch() {
	e.lastSeen.Store(time.Now().UnixNano())
}

type standaloneLimiter struct {
	cfg      *Config
	logger   clog.Logger
	recorder *recorder
	limiters sync.Map // map[string]*limiterEntry
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newStandalone(cfg *Config, logger clog.Logger, meter metrics.Meter) *standaloneLimiter {
	l := &standaloneLimiter{
		cfg:      cfg,
		logger:   logger,
		recorder: newRecorder(meter, DriverStandalone),
		stopCh:   make(chan struct{}),
	}
	go l.cleanup(cfg.CleanupInterval, cfg.IdleTimeout)
	return l
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *standaloneLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if err := validate(key, limit, n); err != nil {
		return false, err
	}

	entry := l.getLimiter(key, limit)
	entry.touch()
	allowed := entry.limiter.AllowN(time.Now(), n)
	l.recorder.observe(ctx, allowed)
	return allowed, nil
}

func (l *standaloneLimiter) Wait(ctx context.Context, key string, limit Limit) error {
	if err := validate(key, limit, 1); err != nil {
		return err
	}

	entry := l.getLimiter(key, limit)
	entry.touch()
	if err := entry.limiter.Wait(ctx); err != nil {
		l.recorder.observe(ctx, false)
		return err
	}
	l.recorder.observe(ctx, true)
	return nil
}

// getLimiter 按 key + 规则获取或创建令牌桶，规则变化时使用新桶
func (l *standaloneLimiter) getLimiter(key string, limit Limit) *limiterEntry {
	cacheKey := fmt.Sprintf("%s:%v:%d", key, limit.Rate, limit.Burst)
	if v, ok := l.limiters.Load(cacheKey); ok {
		return v.(*limiterEntry)
	}

	entry := &limiterEntry{limiter: rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst)}
	entry.touch()
	actual, _ := l.limiters.LoadOrStore(cacheKey, entry)
	return actual.(*limiterEntry)
}

// cleanup 定期清理空闲的令牌桶
func (l *standaloneLimiter) cleanup(interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(time.Now(), idleTimeout)
		case <-l.stopCh:
			return
		}
	}
}

func (l *standaloneLimiter) evictIdle(now time.Time, idleTimeout time.Duration) int {
	count := 0
	l.limiters.Range(func(key, value any) bool {
		entry := value.(*limiterEntry)
		if now.Sub(time.Unix(0, entry.lastSeen.Load())) > idleTimeout {
			l.limiters.Delete(key)
			count++
		}
		return true
	})
	if count > 0 {
		l.logger.Debug("cleaned up idle limiters", clog.Int("count", count))
	}
	return count
}

func (l *standaloneLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}

func validate(key string, limit Limit, n int) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if !limit.Valid() || n <= 0 {
		return ErrInvalidLimit
	}
	return nil
}
