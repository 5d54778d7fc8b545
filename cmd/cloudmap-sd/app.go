package main

import (
	"context"

	"github.com/ceyewan/cloudmap-sd/breaker"
	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/cloudmap"
	"github.com/ceyewan/cloudmap-sd/config"
	"github.com/ceyewan/cloudmap-sd/connector"
	"github.com/ceyewan/cloudmap-sd/discovery"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
	"github.com/ceyewan/cloudmap-sd/trace"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// app 进程内各组件的装配结果
type app struct {
	cfg        *config.AppConfig
	logger     clog.Logger
	meter      metrics.Meter
	redis      connector.RedisConnector
	limiter    ratelimit.Limiter
	aggregator *discovery.Aggregator

	closers []func(ctx context.Context) error
}

func loadConfig(ctx context.Context) (*config.AppConfig, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	return config.LoadApp(ctx, opts...)
}

// newApp 按依赖顺序创建组件，任一步失败时回收已创建的资源
func newApp(ctx context.Context, cfg *config.AppConfig) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.logger, err = clog.New(&cfg.Log,
		clog.WithNamespace("cloudmap-sd"),
		clog.WithStandardContext(),
		clog.WithTraceContext(),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "init logger")
	}
	a.closers = append(a.closers, func(context.Context) error { a.logger.Flush(); return nil })

	traceShutdown, err := trace.Setup(&cfg.Trace)
	if err != nil {
		return nil, xerrors.Wrap(err, "init trace")
	}
	a.closers = append(a.closers, traceShutdown)

	a.meter, err = metrics.New(&cfg.Metrics, metrics.WithLogger(a.logger))
	if err != nil {
		return nil, xerrors.Wrap(err, "init metrics")
	}
	a.closers = append(a.closers, a.meter.Shutdown)

	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(a.logger), ratelimit.WithMeter(a.meter)}
	if cfg.RateLimit.Driver == ratelimit.DriverDistributed {
		a.redis, err = connector.NewRedis(&cfg.Redis, connector.WithLogger(a.logger))
		if err != nil {
			return nil, xerrors.Wrap(err, "init redis")
		}
		a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
		if err := a.redis.Connect(ctx); err != nil {
			return nil, xerrors.Wrap(err, "connect redis")
		}
		limiterOpts = append(limiterOpts, ratelimit.WithRedisConnector(a.redis))
	}

	a.limiter, err = ratelimit.New(&cfg.RateLimit, limiterOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "init rate limiter")
	}
	a.closers = append(a.closers, func(context.Context) error { return a.limiter.Close() })

	brk, err := breaker.New(&cfg.Breaker,
		breaker.WithLogger(a.logger),
		breaker.WithMeter(a.meter),
		breaker.WithIsSuccessful(cloudmap.CountsAsBreakerSuccess),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "init breaker")
	}

	client, err := cloudmap.New(ctx, &cfg.AWS,
		cloudmap.WithLogger(a.logger),
		cloudmap.WithMeter(a.meter),
		cloudmap.WithLimiter(a.limiter, cfg.RateLimit.Limit()),
		cloudmap.WithBreaker(brk),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "init cloudmap client")
	}

	a.aggregator, err = discovery.New(client, &cfg.Discovery,
		discovery.WithLogger(a.logger),
		discovery.WithMeter(a.meter),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "init discovery")
	}
	return a, nil
}

// close 逆序释放资源
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown step failed", clog.Error(err))
		}
	}
	a.closers = nil
}
