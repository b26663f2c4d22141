// Package service implements the leak-check forwarding logic.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"leakcheck-proxy-go/internal/config"
	"leakcheck-proxy-go/internal/metrics"
	"leakcheck-proxy-go/internal/model"
)

var (
	// ErrConfiguration is returned when the upstream base URL is missing or invalid.
	// No outbound call is made.
	ErrConfiguration = errors.New("upstream base URL is not configured")

	// ErrInvalidUpstreamJSON is returned when a successful upstream response is not valid JSON.
	ErrInvalidUpstreamJSON = errors.New("upstream returned invalid JSON")
)

// UpstreamStatusError reports a completed upstream call with a non-2xx status.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("External API error: %d", e.StatusCode)
}

// Fetcher performs one outbound GET. Implemented by *client.UpstreamClient.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) (*model.UpstreamResponse, error)
}

// CheckResult is a successful upstream answer. Body is the upstream JSON, unmodified.
type CheckResult struct {
	Body []byte
}

// CheckService forwards leak-check lookups to the upstream API.
type CheckService struct {
	fetcher   Fetcher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	baseURL   *url.URL // nil when unset or invalid
	userAgent string
}

// NewCheckService creates a CheckService. A missing or invalid base URL does
// not fail construction; it is logged once and every Check then returns
// ErrConfiguration. The metrics parameter is optional.
func NewCheckService(f Fetcher, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *CheckService {
	logger = logger.With("component", "check_service")

	var base *url.URL
	switch raw := cfg.Upstream.BaseURL; raw {
	case "":
		logger.Error("API_BASE_URL is not defined; all checks will fail")
	default:
		u, err := config.ParseBaseURL(raw)
		if err != nil {
			logger.Error("API_BASE_URL is invalid; all checks will fail", "err", err)
		} else {
			base = u
		}
	}

	ua := cfg.Upstream.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}

	return &CheckService{
		fetcher:   f,
		logger:    logger,
		metrics:   m,
		baseURL:   base,
		userAgent: ua,
	}
}

// Configured reports whether a usable upstream base URL is set.
func (s *CheckService) Configured() bool {
	return s.baseURL != nil
}

// Check forwards q to the upstream API.
//
// Errors: ErrConfiguration before any call is made, an error wrapping the
// fetcher's failure on transport problems, *UpstreamStatusError on a
// non-2xx upstream status, and ErrInvalidUpstreamJSON when a 2xx body does
// not parse.
func (s *CheckService) Check(ctx context.Context, q model.CheckQuery) (*CheckResult, error) {
	if s.baseURL == nil {
		s.metrics.ObserveOutcome(metrics.OutcomeConfigError)
		return nil, ErrConfiguration
	}

	target := s.buildUpstreamURL(q)
	header := http.Header{
		"Accept":     {"application/json"},
		"User-Agent": {s.userAgent},
	}

	s.logger.Debug("forwarding check",
		"has_mobile", q.Mobile != "",
		"has_email", q.Email != "",
	)

	resp, err := s.fetcher.Get(ctx, target, header)
	if err != nil {
		s.metrics.ObserveOutcome(metrics.OutcomeTransportError)
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.metrics.ObserveOutcome(metrics.OutcomeUpstreamError)
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	if !json.Valid(resp.Body) {
		s.metrics.ObserveOutcome(metrics.OutcomeInvalidJSON)
		return nil, ErrInvalidUpstreamJSON
	}

	s.metrics.ObserveOutcome(metrics.OutcomeOK)
	return &CheckResult{Body: resp.Body}, nil
}

// buildUpstreamURL clones the base URL and appends mobile, then email,
// skipping empty values. Query parameters already on the base URL are kept
// in their original encoding.
func (s *CheckService) buildUpstreamURL(q model.CheckQuery) string {
	u := *s.baseURL

	// url.Values.Encode sorts keys, which would put email first.
	params := [...]struct{ key, value string }{
		{"mobile", q.Mobile},
		{"email", q.Email},
	}
	raw := u.RawQuery
	for _, p := range params {
		if p.value == "" {
			continue
		}
		if raw != "" {
			raw += "&"
		}
		raw += p.key + "=" + url.QueryEscape(p.value)
	}
	u.RawQuery = raw

	return u.String()
}
