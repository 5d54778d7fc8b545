package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /cloudmap_sd until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithServiceName(cfg.Metrics.ServiceName),
		server.WithRateLimit(a.limiter, cfg.RateLimit.Inbound),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMeter(a.meter))
	}
	if cfg.Trace.Enabled {
		opts = append(opts, server.WithTracing())
	}
	if a.redis != nil {
		opts = append(opts, server.WithReadinessCheck(a.redis.Name(), a.redis.HealthCheck))
	}

	srv, err := server.New(&cfg.Server, a.aggregator, opts...)
	if err != nil {
		return err
	}

	a.logger.Info("cloudmap-sd starting",
		clog.String("version", version),
		clog.String("addr", cfg.Server.Addr()),
		clog.String("region", cfg.AWS.Region),
		clog.String("namespace_filter", cfg.Discovery.Namespace))
	return srv.Run(ctx)
}
