package ratelimit

import "context"

type noopLimiter struct{}

// Discard 返回一个永远放行的限流器
func Discard() Limiter {
	return noopLimiter{}
}

func (noopLimiter) Allow(context.Context, string, Limit) (bool, error)       { return true, nil }
func (noopLimiter) AllowN(context.Context, string, Limit, int) (bool, error) { return true, nil }
func (noopLimiter) Close() error                                             { return nil }

func (noopLimiter) Wait(ctx context.Context, _ string, _ Limit) error {
	return ctx.Err()
}
