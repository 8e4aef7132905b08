// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/hybrid-echo/config.toml",
	"configs/config.toml",
	"configs/config.yaml",
}

// CLI holds the global command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Match    string `kong:"help='Content-Type match mode: exact|prefix (overrides config).',env='DISPATCH_MATCH'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Dispatch DispatchConfig `toml:"dispatch" yaml:"dispatch"`
	RPC      RPCConfig      `toml:"rpc" yaml:"rpc"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds listener settings shared by both protocols.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-client request rate limiting in both backends.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `toml:"burst" yaml:"burst"`
}

// DispatchConfig controls how requests are classified.
type DispatchConfig struct {
	Match string `toml:"match" yaml:"match"`
}

// RPCConfig holds gRPC backend settings.
type RPCConfig struct {
	MaxRecvMsgBytes int   `toml:"max_recv_msg_bytes" yaml:"max_recv_msg_bytes"`
	Health          *bool `toml:"health" yaml:"health"` // nil means enabled
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// configSearchPaths and falls back to built-in defaults if none exist.
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
		if err := decode(path, data, &cfg); err != nil {
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

// decode picks the format from the file extension; anything that is not
// YAML is read as TOML.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Match != "" {
		c.Dispatch.Match = cli.Match
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit.burst must be non-negative; got %d", c.Server.RateLimit.Burst)
	}
	if c.RPC.MaxRecvMsgBytes < 0 {
		return fmt.Errorf("rpc.max_recv_msg_bytes must be non-negative; got %d", c.RPC.MaxRecvMsgBytes)
	}

	switch c.Dispatch.Match {
	case "exact", "prefix", "":
		// valid
	default:
		return fmt.Errorf("dispatch.match must be one of: exact, prefix; got %q", c.Dispatch.Match)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/echo", "/healthz", "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because neither TOML nor YAML lets us
// tell an explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 4 * 1024 * 1024 // 4 MB, same as the gRPC default
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = max(1, int(c.Server.RateLimit.RequestsPerSecond))
	}
	if c.Dispatch.Match == "" {
		c.Dispatch.Match = "exact"
	}
	if c.RPC.MaxRecvMsgBytes == 0 {
		c.RPC.MaxRecvMsgBytes = int(c.Server.BodyMaxBytes)
	}
	if c.RPC.Health == nil {
		enabled := true
		c.RPC.Health = &enabled
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

// HealthEnabled reports whether the gRPC health service should be registered.
func (c *RPCConfig) HealthEnabled() bool {
	return c.Health == nil || *c.Health
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FilePath returns the config file that was loaded, or empty when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
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
