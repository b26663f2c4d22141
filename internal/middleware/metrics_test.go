package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"leakcheck-proxy-go/internal/metrics"
)

// requestCount returns the request counter value for one label set.
func requestCount(m *metrics.Metrics, method, status, path string) float64 {
	return testutil.ToFloat64(m.RequestsTotal.WithLabelValues(method, status, path))
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/check", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/check?mobile=1", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := requestCount(m, "GET", "200", "/check"); v != 1 {
		t.Errorf("counter value = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.RequestsInFlight); v != 0 {
		t.Errorf("in-flight = %v, want 0 after completion", v)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	if n := testutil.CollectAndCount(m.RequestDuration, "leakcheck_proxy_http_request_duration_seconds"); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestMetricsMiddleware_ErrorStatuses(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/check", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "External API error: 404"})
	})
	e.GET("/api/check", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "bad gateway")
	})

	for _, path := range []string{"/check", "/api/check"} {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	if v := requestCount(m, "GET", "404", "/check"); v != 1 {
		t.Errorf("/check 404 count = %v, want 1", v)
	}
	if v := requestCount(m, "GET", "502", "/api/check"); v != 1 {
		t.Errorf("/api/check 502 count = %v, want 1", v)
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.Any("/check", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/check", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != "leakcheck_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "method" && lp.GetValue() == "other" {
					return
				}
			}
		}
	}
	t.Error("expected leakcheck_proxy_http_requests_total with method=other")
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if v := requestCount(m, "GET", "404", "other"); v != 1 {
		t.Errorf("other 404 count = %v, want 1", v)
	}
}

func TestMetricsMiddleware_SkipsScrapePath(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/metrics", func(c echo.Context) error {
		return c.String(http.StatusOK, "# metrics")
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	if n := testutil.CollectAndCount(m.RequestsTotal); n != 0 {
		t.Errorf("request series = %d, want 0 for scrape path", n)
	}
}
