// Package server 提供 cloudmap-sd 的 HTTP 接口。
//
// 路由：
//
//	GET /cloudmap_sd  每次请求同步执行一次发现流程，返回 Prometheus HTTP SD JSON
//	GET /healthz      存活探针，固定返回 ok
//	GET /readyz       就绪探针，执行注册的 ReadinessCheck
//	GET /metrics      Prometheus 指标（配置了 Meter 时）
//
// 发现失败时返回 text/plain 诊断信息而不是 JSON：上游不可用为 503，
// 鉴权失败为 502，其余为 500。部分结果仍返回 200，并在
// X-Cloudmap-Skipped 头中给出被跳过的列表数。
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/discovery"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
	"github.com/ceyewan/cloudmap-sd/trace"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// 路由
const (
	pathDiscover = "/cloudmap_sd"
	pathHealth   = "/healthz"
	pathReady    = "/readyz"
	pathMetrics  = "/metrics"
)

// HeaderSkipped 部分结果中被跳过的列表数
const HeaderSkipped = "X-Cloudmap-Skipped"

const readinessTimeout = 2 * time.Second

// Discoverer 执行一次发现流程，*discovery.Aggregator 满足该接口
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.TargetGroup, error)
}

// Server HTTP 服务
type Server struct {
	cfg    Config
	disc   Discoverer
	logger clog.Logger
	checks []namedCheck

	engine *gin.Engine
	http   *http.Server
}

// New 创建 Server 并注册路由
func New(cfg *Config, disc Discoverer, opts ...Option) (*Server, error) {
	if disc == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "server: discoverer is nil")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	opt.applyDefaults()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recovery(opt.logger), requestID())
	if opt.tracing {
		engine.Use(trace.GinMiddleware(opt.serviceName))
	}
	if opt.meter != nil {
		httpMetrics, err := metrics.NewHTTPServerMetrics(opt.meter, opt.serviceName)
		if err != nil {
			return nil, err
		}
		engine.Use(metrics.GinHTTPMiddleware(httpMetrics))
	}
	engine.Use(accessLog(opt.logger))

	s := &Server{
		cfg:    c,
		disc:   disc,
		logger: opt.logger,
		checks: opt.checks,
		engine: engine,
	}

	discoverChain := []gin.HandlerFunc{s.handleDiscover}
	if opt.limiter != nil && opt.limit.Valid() {
		discoverChain = append([]gin.HandlerFunc{ratelimit.GinMiddleware(opt.limiter, nil, opt.limit)}, discoverChain...)
	}
	engine.GET(pathDiscover, discoverChain...)
	engine.GET(pathHealth, s.handleHealth)
	engine.GET(pathReady, s.handleReady)
	if opt.meter != nil {
		engine.GET(pathMetrics, gin.WrapH(opt.meter.Handler()))
	}

	s.http = &http.Server{
		Addr:              c.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler 返回路由，便于测试或嵌入其他服务
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听配置的地址并服务，直到 ctx 结束后优雅退出
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return xerrors.Wrapf(err, "listen %s", s.cfg.Addr())
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上服务，直到 ctx 结束后优雅退出
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.logger.Info("http server listening", clog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return xerrors.Wrap(err, "http serve")
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down", clog.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return xerrors.Wrap(err, "http shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Wrap(err, "http serve")
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleDiscover(c *gin.Context) {
	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-store")

	groups, err := s.disc.Discover(ctx)
	if discovery.IsTotalFailure(err) {
		status := StatusFor(err)
		// 聚合器已按 error 级别记录本次失败
		s.logger.DebugContext(ctx, "discovery request failed",
			clog.Int("status", status),
			clog.Error(err))
		c.String(status, "%s\n", err.Error())
		return
	}

	if n := discovery.SkippedCount(err); n > 0 {
		c.Header(HeaderSkipped, strconv.Itoa(n))
	}
	if groups == nil {
		groups = []discovery.TargetGroup{}
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok\n")
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	var failed []string
	for _, nc := range s.checks {
		if err := nc.check(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", clog.String("check", nc.name), clog.Error(err))
			failed = append(failed, nc.name+": "+err.Error())
		}
	}
	if len(failed) > 0 {
		c.String(http.StatusServiceUnavailable, "not ready: %s\n", strings.Join(failed, "; "))
		return
	}
	c.String(http.StatusOK, "ready\n")
}

// StatusFor 把发现错误映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, discovery.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, discovery.ErrAuth):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
