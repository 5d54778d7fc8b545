package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/cloudmap"
	"github.com/ceyewan/cloudmap-sd/discovery"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
	"github.com/ceyewan/cloudmap-sd/testkit"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

func newServer(t *testing.T, reg discovery.Registry, dcfg discovery.Config, opts ...Option) *Server {
	t.Helper()
	agg, err := discovery.New(reg, &dcfg)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(testkit.NewLogger())}, opts...)
	s, err := New(&Config{Host: "127.0.0.1"}, agg, opts...)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDiscoverEndpoint(t *testing.T) {
	s := newServer(t, testkit.ProdLocal(), discovery.Config{})

	rec := get(t, s.Handler(), "/cloudmap_sd")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	require.Empty(t, rec.Header().Get(HeaderSkipped))
	require.JSONEq(t, `[
		{"targets":["10.0.0.2","10.0.0.3"],"labels":{"__meta_cloudmap_namespace_name":"prod.local","__meta_cloudmap_service_name":"backend"}},
		{"targets":["10.0.0.1"],"labels":{"__meta_cloudmap_namespace_name":"prod.local","__meta_cloudmap_service_name":"frontend"}}
	]`, rec.Body.String())

	// 同一快照两次请求逐字节一致
	again := get(t, s.Handler(), "/cloudmap_sd")
	require.Equal(t, rec.Body.String(), again.Body.String())
}

func TestDiscoverEndpointEmpty(t *testing.T) {
	s := newServer(t, testkit.ProdLocal(), discovery.Config{Namespace: "staging"})

	rec := get(t, s.Handler(), "/cloudmap_sd")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestDiscoverEndpointFailures(t *testing.T) {
	tests := []struct {
		name   string
		reg    *testkit.FakeRegistry
		policy discovery.FailurePolicy
		status int
		code   string
	}{
		{
			name:   "list namespaces permission denied",
			reg:    testkit.ProdLocal().FailOn(cloudmap.OpListNamespaces, "", testkit.AuthError(cloudmap.OpListNamespaces)),
			status: http.StatusBadGateway,
			code:   discovery.CodeAuth,
		},
		{
			name:   "list namespaces unavailable",
			reg:    testkit.ProdLocal().FailOn(cloudmap.OpListNamespaces, "", testkit.UnavailableError(cloudmap.OpListNamespaces)),
			status: http.StatusServiceUnavailable,
			code:   discovery.CodeUnavailable,
		},
		{
			name: "unknown registry error",
			reg: testkit.ProdLocal().FailOn(cloudmap.OpListNamespaces, "",
				&cloudmap.Error{Op: cloudmap.OpListNamespaces, Kind: cloudmap.KindUnknown, Err: errors.New("validation failed")}),
			status: http.StatusInternalServerError,
			code:   discovery.CodeInternal,
		},
		{
			name:   "strict policy instance failure",
			reg:    testkit.ProdLocal().FailOn(cloudmap.OpListInstances, "srv-backend", testkit.UnavailableError(cloudmap.OpListInstances)),
			policy: discovery.FailurePolicyStrict,
			status: http.StatusServiceUnavailable,
			code:   discovery.CodeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, tt.reg, discovery.Config{FailurePolicy: tt.policy})

			rec := get(t, s.Handler(), "/cloudmap_sd")
			require.Equal(t, tt.status, rec.Code)
			require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
			require.Contains(t, rec.Body.String(), "["+tt.code+"]")

			var groups []discovery.TargetGroup
			require.Error(t, json.Unmarshal(rec.Body.Bytes(), &groups), "诊断信息不应是目标组 JSON")
		})
	}
}

func TestDiscoverEndpointPartial(t *testing.T) {
	reg := testkit.ProdLocal().
		FailOn(cloudmap.OpListInstances, "srv-backend", testkit.UnavailableError(cloudmap.OpListInstances))
	s := newServer(t, reg, discovery.Config{FailurePolicy: discovery.FailurePolicyPartial})

	rec := get(t, s.Handler(), "/cloudmap_sd")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get(HeaderSkipped))

	var groups []discovery.TargetGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	require.Equal(t, "frontend", groups[0].Labels[discovery.LabelServiceName])
}

func TestHealthAndReady(t *testing.T) {
	healthy := true
	s := newServer(t, testkit.ProdLocal(), discovery.Config{},
		WithReadinessCheck("redis", func(context.Context) error {
			if healthy {
				return nil
			}
			return xerrors.New("connection refused")
		}))

	rec := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())

	rec = get(t, s.Handler(), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = get(t, s.Handler(), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "redis: connection refused")

	// 存活探针不受就绪检查影响
	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
}

func TestRequestID(t *testing.T) {
	s := newServer(t, testkit.ProdLocal(), discovery.Config{})

	rec := get(t, s.Handler(), "/healthz", HeaderRequestID, "req-123")
	require.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))

	rec = get(t, s.Handler(), "/healthz")
	require.Len(t, rec.Header().Get(HeaderRequestID), 36)
}

func TestMetricsRoute(t *testing.T) {
	kit := testkit.NewKit(t)
	s := newServer(t, testkit.ProdLocal(), discovery.Config{}, WithMeter(kit.Meter))

	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/cloudmap_sd").Code)

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_server_requests_total{")
	require.Contains(t, rec.Body.String(), `route="/cloudmap_sd"`)
}

func TestNoMetricsRouteWithoutMeter(t *testing.T) {
	s := newServer(t, testkit.ProdLocal(), discovery.Config{})
	require.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)
}

func TestInboundRateLimit(t *testing.T) {
	limiter, err := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverStandalone})
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	s := newServer(t, testkit.ProdLocal(), discovery.Config{},
		WithRateLimit(limiter, ratelimit.Limit{Rate: 0.01, Burst: 1}))

	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/cloudmap_sd").Code)
	rec := get(t, s.Handler(), "/cloudmap_sd")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// 探针不限流
	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
}

func TestServeGracefulShutdown(t *testing.T) {
	reg := testkit.ProdLocal()
	agg, err := discovery.New(reg, &discovery.Config{})
	require.NoError(t, err)
	s, err := New(&Config{Host: "127.0.0.1", ShutdownTimeout: time.Second}, agg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewRequiresDiscoverer(t *testing.T) {
	_, err := New(&Config{}, nil)
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(discovery.ErrUpstreamUnavailable))
	require.Equal(t, http.StatusBadGateway, StatusFor(discovery.ErrAuth))
	require.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestConfigAddr(t *testing.T) {
	c := Config{Host: "0.0.0.0", Port: 3030}
	require.Equal(t, "0.0.0.0:3030", c.Addr())
	c = Config{Host: "::1", Port: 80}
	require.Equal(t, "[::1]:80", c.Addr())
}

func TestTotalFailureLoggedOnceAtError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sd.log")
	logger, err := clog.New(&clog.Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	reg := testkit.ProdLocal().FailOn(cloudmap.OpListNamespaces, "", testkit.UnavailableError(cloudmap.OpListNamespaces))
	agg, err := discovery.New(reg, &discovery.Config{}, discovery.WithLogger(logger))
	require.NoError(t, err)
	s, err := New(&Config{Host: "127.0.0.1"}, agg, WithLogger(logger))
	require.NoError(t, err)

	rec := get(t, s.Handler(), "/cloudmap_sd")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	logger.Flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	errorLines := 0
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["level"] == "ERROR" {
			errorLines++
			require.Equal(t, "discovery pass failed", entry["msg"])
		}
	}
	require.Equal(t, 1, errorLines)
}
