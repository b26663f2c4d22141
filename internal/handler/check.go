package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"leakcheck-proxy-go/internal/model"
	"leakcheck-proxy-go/internal/service"
)

// Error messages returned to callers.
const (
	msgConfigurationError  = "Configuration Error"
	msgInternalServerError = "Internal Server Error"
)

// sensitiveParamPattern matches lookup values and credentials in URLs embedded in error messages.
var sensitiveParamPattern = regexp.MustCompile(`(?i)((?:mobile|email|api_?key|key|token)=)[^&\s"]+`)

// Checker runs one leak-check lookup. Implemented by *service.CheckService.
type Checker interface {
	Check(ctx context.Context, q model.CheckQuery) (*service.CheckResult, error)
}

// CheckHandler serves GET /check.
type CheckHandler struct {
	service Checker
	logger  *slog.Logger
}

// NewCheckHandler creates a CheckHandler.
func NewCheckHandler(svc *service.CheckService, logger *slog.Logger) *CheckHandler {
	return newCheckHandler(svc, logger)
}

func newCheckHandler(svc Checker, logger *slog.Logger) *CheckHandler {
	return &CheckHandler{
		service: svc,
		logger:  logger.With("component", "check_handler"),
	}
}

// Handle forwards the mobile and email query parameters upstream and relays
// the JSON answer unchanged.
func (h *CheckHandler) Handle(c echo.Context) error {
	q := model.CheckQuery{
		Mobile: c.QueryParam("mobile"),
		Email:  c.QueryParam("email"),
	}

	res, err := h.service.Check(c.Request().Context(), q)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSONBlob(http.StatusOK, res.Body)
}

func (h *CheckHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, service.ErrConfiguration) {
		h.logger.Error("API_BASE_URL is not defined", "path", path)
		return errorJSON(c, http.StatusInternalServerError, msgConfigurationError)
	}

	var se *service.UpstreamStatusError
	if errors.As(err, &se) {
		h.logger.Warn("upstream error status",
			"upstream_status", se.StatusCode,
			"path", path,
		)
		return errorJSON(c, se.StatusCode, se.Error())
	}

	if errors.Is(err, service.ErrInvalidUpstreamJSON) {
		h.logger.Error("proxy error", "kind", "invalid_json", "err", err, "path", path)
		return errorJSON(c, http.StatusInternalServerError, msgInternalServerError)
	}

	h.logger.Error("proxy error", "kind", "transport", "err", sanitizeError(err), "path", path)
	return errorJSON(c, http.StatusInternalServerError, msgInternalServerError)
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// sanitizeError redacts lookup values and credentials from error messages
// that may contain upstream URLs.
func sanitizeError(err error) string {
	return sensitiveParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
