// Package middleware provides Echo middleware for logging, metrics and response hardening.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// lookupParams are query parameters whose presence is logged but never their value.
var lookupParams = []string{"mobile", "email"}

// RequestLogger returns an Echo middleware that logs each request with slog.
// Query strings carry personal data, so only the path and which lookup
// parameters were present are recorded. 5xx responses log at error level,
// 4xx at warn.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()

			status := res.Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			q := req.URL.Query()
			for _, p := range lookupParams {
				if q.Get(p) != "" {
					attrs = append(attrs, "has_"+p, true)
				}
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
