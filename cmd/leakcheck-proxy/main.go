package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"leakcheck-proxy-go/internal/client"
	"leakcheck-proxy-go/internal/config"
	"leakcheck-proxy-go/internal/handler"
	"leakcheck-proxy-go/internal/metrics"
	"leakcheck-proxy-go/internal/middleware"
	"leakcheck-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env must be applied before kong reads the environment.
	if err := config.LoadDotEnv(config.DotEnvPath()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("leakcheck-proxy"),
		kong.Description("Forwards leak-check lookups to an external API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		appOptions(&cli),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l}
		}),
	).Run()
}

// appOptions builds the dependency graph for the proxy.
func appOptions(cli *config.CLI) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewUpstreamClient,
			func(c *client.UpstreamClient) service.Fetcher { return c },
			service.NewCheckService,
			func(s *service.CheckService) handler.UpstreamStatus { return s },
			handler.NewCheckHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, logStartup, startServer),
	)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. WriteTimeout must
	// outlast the upstream timeout so relayed answers are not cut off.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second + 10*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func logStartup(cfg *config.Config, svc *service.CheckService, logger *slog.Logger) {
	logger.Info("upstream",
		"configured", svc.Configured(),
		"timeout", (time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second).String(),
		"max_response", humanize.IBytes(uint64(cfg.Upstream.MaxResponseBytes)),
		"max_request_body", humanize.IBytes(uint64(cfg.Server.BodyMaxBytes)),
	)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, uc *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			err := e.Shutdown(ctx)
			uc.CloseIdleConnections()
			return err
		},
	})
}
