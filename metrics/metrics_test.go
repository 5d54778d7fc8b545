package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Meter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	m, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	require.IsType(t, noopMeter{}, m)

	m, err = New(&Config{Enabled: true, ServiceName: "cloudmap-sd-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	require.NotNil(t, m.Handler())
}

func TestInstrumentsExported(t *testing.T) {
	ctx := context.Background()
	m, err := New(&Config{Enabled: true, ServiceName: "cloudmap-sd-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(ctx) })

	counter, err := m.Counter("cloudmap_sd_test_calls_total", "Test calls.")
	require.NoError(t, err)
	counter.Inc(ctx, L(LabelOutcome, OutcomeSuccess))
	counter.Add(ctx, 2, L(LabelOutcome, OutcomeSuccess))
	counter.Add(ctx, -5, L(LabelOutcome, OutcomeSuccess))

	gauge, err := m.Gauge("cloudmap_sd_test_targets", "Test targets.")
	require.NoError(t, err)
	gauge.Set(ctx, 5)
	gauge.Inc(ctx)
	gauge.Dec(ctx)
	gauge.Dec(ctx)

	hist, err := m.Histogram("cloudmap_sd_test_duration_seconds", "Test duration.", WithUnit("s"), WithBuckets([]float64{0.1, 1}))
	require.NoError(t, err)
	hist.Record(ctx, 0.5)

	body := scrape(t, m)
	require.Contains(t, body, `cloudmap_sd_test_calls_total{`)
	require.Contains(t, body, `outcome="success"`)
	require.Regexp(t, `cloudmap_sd_test_calls_total\{[^}]*\} 3`, body)
	require.Regexp(t, `cloudmap_sd_test_targets\{[^}]*\} 4`, body)
	require.Contains(t, body, `cloudmap_sd_test_duration_seconds_bucket{`)
	require.Contains(t, body, `le="0.1"`)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	m := Discard()
	c, _ := m.Counter("x", "x")
	c.Inc(ctx)
	g, _ := m.Gauge("y", "y")
	g.Set(ctx, 1)
	h, _ := m.Histogram("z", "z")
	h.Record(ctx, 1)
	require.NoError(t, m.Shutdown(ctx))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPStatusClass(t *testing.T) {
	require.Equal(t, "2xx", HTTPStatusClass(200))
	require.Equal(t, "5xx", HTTPStatusClass(503))
	require.Equal(t, "unknown", HTTPStatusClass(42))
	require.Equal(t, OutcomeSuccess, HTTPOutcome(304))
	require.Equal(t, OutcomeError, HTTPOutcome(502))
}

// ==================== Gin 中间件 ====================

type captureCounter struct {
	records [][]Label
}

func (c *captureCounter) Inc(_ context.Context, labels ...Label) {
	c.records = append(c.records, append([]Label(nil), labels...))
}

func (c *captureCounter) Add(ctx context.Context, _ float64, labels ...Label) {
	c.Inc(ctx, labels...)
}

type captureHistogram struct {
	records [][]Label
}

func (h *captureHistogram) Record(_ context.Context, _ float64, labels ...Label) {
	h.records = append(h.records, append([]Label(nil), labels...))
}

func labelValue(labels []Label, key string) string {
	for _, label := range labels {
		if label.Key == key {
			return label.Value
		}
	}
	return ""
}

func TestGinHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	counter := &captureCounter{}
	histogram := &captureHistogram{}
	httpMetrics := &HTTPServerMetrics{service: "cloudmap-sd", requestTotal: counter, duration: histogram}

	router := gin.New()
	router.Use(GinHTTPMiddleware(httpMetrics))
	router.GET("/cloudmap_sd", func(c *gin.Context) { c.String(http.StatusServiceUnavailable, "down") })

	for _, path := range []string{"/cloudmap_sd", "/random/path"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, counter.records, 2)
	require.Len(t, histogram.records, 2)

	require.Equal(t, "/cloudmap_sd", labelValue(counter.records[0], LabelRoute))
	require.Equal(t, "5xx", labelValue(counter.records[0], LabelStatusClass))
	require.Equal(t, OutcomeError, labelValue(counter.records[0], LabelOutcome))
	require.Equal(t, UnknownRoute, labelValue(counter.records[1], LabelRoute))
	require.Equal(t, "4xx", labelValue(counter.records[1], LabelStatusClass))
}

func TestNewHTTPServerMetrics(t *testing.T) {
	_, err := NewHTTPServerMetrics(nil, "svc")
	require.Error(t, err)

	hm, err := NewHTTPServerMetrics(Discard(), " ")
	require.NoError(t, err)
	require.Equal(t, "unknown", hm.service)
	hm.Observe(context.Background(), "", "", 200, time.Millisecond)

	var nilMetrics *HTTPServerMetrics
	nilMetrics.Observe(context.Background(), "GET", "/", 200, time.Millisecond)
}
