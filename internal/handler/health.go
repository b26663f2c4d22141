// Package handler implements the HTTP endpoints of the proxy.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Version is a string type for dependency injection of the build version.
type Version string

// UpstreamStatus reports whether the upstream base URL is usable.
type UpstreamStatus interface {
	Configured() bool
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	upstream UpstreamStatus
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(upstream UpstreamStatus, v Version) *HealthHandler {
	return &HealthHandler{upstream: upstream, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. The upstream URL itself is not
// reported since it may embed credentials.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":              "ok",
		"version":             string(h.version),
		"upstream_configured": h.upstream.Configured(),
	})
}
