package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"leakcheck-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. Requests to skipPath (the scrape endpoint) are not
// counted.
func MetricsMiddleware(m *metrics.Metrics, skipPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipPath != "" && c.Request().URL.Path == skipPath {
				return next(c)
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			// A returned *echo.HTTPError has not been written yet; Echo's
			// central error handler does that after the chain unwinds.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			// Prefer the matched route template; fall back to the raw path
			// for unmatched requests. Either way the label stays bounded.
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(route)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(duration)

			return err
		}
	}
}
