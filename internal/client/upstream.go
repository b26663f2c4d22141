// Package client provides the outbound HTTP client for the leak-check API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"leakcheck-proxy-go/internal/config"
	"leakcheck-proxy-go/internal/metrics"
	"leakcheck-proxy-go/internal/model"
)

var (
	// ErrTransport wraps every failure to obtain a complete upstream response.
	ErrTransport = errors.New("upstream transport failure")

	// ErrResponseTooLarge is returned when the upstream body exceeds upstream.max_response_bytes.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// UpstreamClient sends requests to the upstream leak-check API.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxBody    int64
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
		maxBody: cfg.Upstream.MaxResponseBytes,
	}
}

// Get issues one GET request and reads the whole response body.
// A zero max body size means unlimited.
func (c *UpstreamClient) Get(ctx context.Context, url string, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, vals := range header {
		req.Header[k] = append([]string(nil), vals...)
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(time.Since(start), 0)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := c.readBody(resp.Body)
	c.observe(time.Since(start), resp.StatusCode)
	if err != nil {
		return nil, err
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// CloseIdleConnections releases pooled upstream connections.
func (c *UpstreamClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *UpstreamClient) readBody(r io.Reader) ([]byte, error) {
	if c.maxBody <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: %w (limit %d bytes)", ErrTransport, ErrResponseTooLarge, c.maxBody)
	}
	return body, nil
}

// observe records latency, and the status code when a response arrived.
func (c *UpstreamClient) observe(d time.Duration, status int) {
	if c.metrics == nil {
		return
	}
	method := metrics.NormalizeMethod(http.MethodGet)
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	if status != 0 {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
}
