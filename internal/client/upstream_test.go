package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"leakcheck-proxy-go/internal/config"
	"leakcheck-proxy-go/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, upstream config.UpstreamConfig, m *metrics.Metrics) *UpstreamClient {
	t.Helper()
	if upstream.IdleConnections == 0 {
		upstream.IdleConnections = 10
	}
	if upstream.TimeoutSeconds == 0 {
		upstream.TimeoutSeconds = 10
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(&config.Config{Upstream: upstream}, logger, m)
	t.Cleanup(c.CloseIdleConnections)
	return c
}

func TestUpstreamClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want %q", got, "application/json")
		}
		if got := r.URL.Query().Get("email"); got != "a@b.c" {
			t.Errorf("email = %q, want %q", got, "a@b.c")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, config.UpstreamConfig{}, nil)

	header := http.Header{"Accept": {"application/json"}}
	resp, err := c.Get(context.Background(), srv.URL+"/lookup?email=a%40b.c", header)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(resp.Body), `{"status":"ok"}`)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestUpstreamClient_Get_ErrorStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, config.UpstreamConfig{}, nil)

	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestUpstreamClient_Get_Unreachable(t *testing.T) {
	c := newTestClient(t, config.UpstreamConfig{TimeoutSeconds: 1}, nil)

	_, err := c.Get(context.Background(), "http://127.0.0.1:1/nonexistent", nil)
	if err == nil {
		t.Fatal("Get() expected error for unreachable host, got nil")
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestUpstreamClient_Get_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(t, config.UpstreamConfig{TimeoutSeconds: 30}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, srv.URL+"/slow", nil)
	if err == nil {
		t.Fatal("Get() expected error for expired context, got nil")
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded in chain", err)
	}
}

func TestUpstreamClient_Get_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	c := newTestClient(t, config.UpstreamConfig{MaxResponseBytes: 16}, nil)

	_, err := c.Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("error = %v, want ErrResponseTooLarge", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestUpstreamClient_Get_BodyAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 16)))
	}))
	defer srv.Close()

	c := newTestClient(t, config.UpstreamConfig{MaxResponseBytes: 16}, nil)

	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(resp.Body) != 16 {
		t.Errorf("len(body) = %d, want 16", len(resp.Body))
	}
}

func TestUpstreamClient_Get_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(t, config.UpstreamConfig{}, m)

	if _, err := c.Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got := testutil.ToFloat64(m.UpstreamResponses.WithLabelValues("GET", "418")); got != 1 {
		t.Errorf("upstream responses{GET,418} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.UpstreamDuration); got != 1 {
		t.Errorf("upstream duration series = %d, want 1", got)
	}
}
