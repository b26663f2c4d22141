// Package config handles configuration loading and validation from TOML, .env and CLI flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// DefaultUserAgent identifies the proxy to the upstream API.
const DefaultUserAgent = "Mozilla/5.0 (compatible; LeakDataChecker/1.0)"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/leakcheck-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIBaseURL string `kong:"name='api-base-url',help='Upstream leak-check API base URL (overrides config).',env='API_BASE_URL'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat  string `kong:"help='Log format: json|text (overrides config).',env='LOG_FORMAT'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port" validate:"gte=0,lte=65535"` // 0 means "use default" (8000)
	BodyMaxBytes int64  `toml:"body_max_bytes" validate:"gte=0"`
}

// UpstreamConfig holds upstream connection settings.
//
// BaseURL may be empty: the service still starts and every check fails
// with a configuration error until it is set.
type UpstreamConfig struct {
	BaseURL          string `toml:"base_url"`
	TimeoutSeconds   int    `toml:"timeout_seconds" validate:"gte=0"`
	IdleConnections  int    `toml:"idle_connections" validate:"gte=0"`
	MaxResponseBytes int64  `toml:"max_response_bytes" validate:"gte=0"`
	UserAgent        string `toml:"user_agent"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `toml:"format" validate:"omitempty,oneof=json text JSON TEXT"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DotEnvPath returns the .env file to load: $ENV_FILE, or ".env" in the working directory.
func DotEnvPath() string {
	if p := os.Getenv("ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/leakcheck-proxy/config.toml then configs/config.toml; finding nothing
// is fine, flags and environment alone can configure the proxy.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIBaseURL != "" {
		c.Upstream.BaseURL = cli.APIBaseURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validate reports every violation at once.
func (c *Config) validate() error {
	var errs error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = multierr.Append(errs, fieldError(fe))
		}
	}

	if c.Upstream.BaseURL != "" {
		if _, err := ParseBaseURL(c.Upstream.BaseURL); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("upstream.base_url: %w", err))
		}
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			errs = multierr.Append(errs, fmt.Errorf("metrics.path must start with '/'; got %q", p))
		}
		for _, reserved := range []string{"/check", "/api/check", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				errs = multierr.Append(errs, fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved))
			}
		}
	}

	return errs
}

// fieldError renders a validator failure using the TOML key of the field.
func fieldError(fe validator.FieldError) error {
	key := tomlKey(fe.StructNamespace())
	if fe.Param() != "" {
		return fmt.Errorf("%s must satisfy %s=%s; got %v", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s must satisfy %s; got %v", key, fe.Tag(), fe.Value())
}

var tomlKeys = map[string]string{
	"Server":           "server",
	"Port":             "port",
	"BodyMaxBytes":     "body_max_bytes",
	"Upstream":         "upstream",
	"TimeoutSeconds":   "timeout_seconds",
	"IdleConnections":  "idle_connections",
	"MaxResponseBytes": "max_response_bytes",
	"Log":              "log",
	"Level":            "level",
	"Format":           "format",
}

// tomlKey maps "Config.Server.Port" to "server.port".
func tomlKey(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		if k, ok := tomlKeys[p]; ok {
			parts[i] = k
		}
	}
	return strings.Join(parts, ".")
}

// ParseBaseURL parses an upstream base URL. It must be absolute with an
// http or https scheme and a host.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https; got %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 << 20 // 1 MiB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = 10 << 20 // 10 MiB
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
