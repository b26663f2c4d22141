package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leakcheck-proxy-go/internal/config"
	"leakcheck-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, check *CheckHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.GET("/check", check.Handle)
	e.GET("/api/check", check.Handle)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
