// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/mirror-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and never reach the pipeline.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config             string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host               string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port               int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamHost       string `kong:"help='Upstream host (overrides config).',env='UPSTREAM_HOST'"`
	UpstreamMobileHost string `kong:"help='Upstream host for mobile clients (overrides config).',env='UPSTREAM_MOBILE_HOST'"`
	LogLevel           string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Policy   PolicyConfig   `toml:"policy"`
	Rewrite  RewriteConfig  `toml:"rewrite"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the mirrored origin and connection settings.
type UpstreamConfig struct {
	Host            string `toml:"host"`
	MobileHost      string `toml:"mobile_host"`
	Scheme          string `toml:"scheme"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// PolicyConfig holds access policy settings.
type PolicyConfig struct {
	AllowedMethods  []string `toml:"allowed_methods"`
	BlockedRegions  []string `toml:"blocked_regions"`
	BlockedIPs      []string `toml:"blocked_ips"`
	RegionHeader    string   `toml:"region_header"`
	IPHeader        string   `toml:"ip_header"`
	AllowPlainHTTP  bool     `toml:"allow_plain_http"`
	// TrustForwardedProto honors X-Forwarded-Proto and friends. Enable only
	// behind a TLS terminator that overwrites those headers.
	TrustForwardedProto bool `toml:"trust_forwarded_proto"`
	CacheTTLSeconds     int  `toml:"cache_ttl_seconds"`
}

// RewriteConfig holds HTML body rewrite settings.
type RewriteConfig struct {
	// Rules are applied in order, before any rules loaded from RulesFile.
	Rules        []RewriteRule `toml:"rules"`
	RulesFile    string        `toml:"rules_file"`
	MaxBodyBytes int64         `toml:"max_body_bytes"`
}

// RewriteRule is a single literal substitution. Pattern and Replacement may
// contain the $upstream and $custom_domain placeholders.
type RewriteRule struct {
	Pattern     string `toml:"pattern"`
	Replacement string `toml:"replacement"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/mirror-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if cfg.Rewrite.RulesFile != "" {
		rules, err := LoadRulesFile(cfg.Rewrite.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.Rewrite.Rules = append(cfg.Rewrite.Rules, rules...)
	}

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
	if cli.UpstreamHost != "" {
		c.Upstream.Host = cli.UpstreamHost
	}
	if cli.UpstreamMobileHost != "" {
		c.Upstream.MobileHost = cli.UpstreamMobileHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream hosts: required, bare host[:port].
	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream.host is required")
	}
	if err := validateHost("upstream.host", c.Upstream.Host); err != nil {
		return err
	}
	if c.Upstream.MobileHost != "" {
		if err := validateHost("upstream.mobile_host", c.Upstream.MobileHost); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Upstream.Scheme) {
	case "https", "http", "":
		// valid
	default:
		return fmt.Errorf("upstream.scheme must be one of: https, http; got %q", c.Upstream.Scheme)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Rewrite.MaxBodyBytes < 0 {
		return fmt.Errorf("rewrite.max_body_bytes must be non-negative; got %d", c.Rewrite.MaxBodyBytes)
	}
	if c.Policy.CacheTTLSeconds < 0 {
		return fmt.Errorf("policy.cache_ttl_seconds must be non-negative; got %d", c.Policy.CacheTTLSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Policy lists.
	for _, m := range c.Policy.AllowedMethods {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("policy.allowed_methods contains an empty method")
		}
	}
	for _, r := range c.Policy.BlockedRegions {
		if len(strings.TrimSpace(r)) != 2 {
			return fmt.Errorf("policy.blocked_regions entries must be ISO 3166-1 alpha-2 codes; got %q", r)
		}
	}
	for _, ip := range c.Policy.BlockedIPs {
		if err := validateBlockedIP(ip); err != nil {
			return err
		}
	}

	for i, r := range c.Rewrite.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("rewrite.rules[%d]: pattern must not be empty", i)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
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
		if p == "/" {
			return fmt.Errorf("metrics.path must not be the root path")
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// validateHost rejects values that are URLs rather than bare host[:port].
func validateHost(field, host string) error {
	if strings.Contains(host, "://") || strings.ContainsAny(host, "/?#") {
		return fmt.Errorf("%s must be a bare host, not a URL; got %q", field, host)
	}
	if strings.TrimSpace(host) != host {
		return fmt.Errorf("%s must not contain whitespace; got %q", field, host)
	}
	return nil
}

// validateBlockedIP accepts a single address or a CIDR prefix.
func validateBlockedIP(v string) error {
	if strings.Contains(v, "/") {
		if _, err := netip.ParsePrefix(v); err != nil {
			return fmt.Errorf("policy.blocked_ips: invalid CIDR %q: %w", v, err)
		}
		return nil
	}
	if net.ParseIP(v) == nil {
		return fmt.Errorf("policy.blocked_ips: invalid IP address %q", v)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.MobileHost == "" {
		c.Upstream.MobileHost = c.Upstream.Host
	}
	if c.Upstream.Scheme == "" {
		c.Upstream.Scheme = "https"
	}
	c.Upstream.Scheme = strings.ToLower(c.Upstream.Scheme)
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if len(c.Policy.AllowedMethods) == 0 {
		c.Policy.AllowedMethods = []string{"GET", "HEAD", "POST", "OPTIONS"}
	}
	if c.Policy.RegionHeader == "" {
		c.Policy.RegionHeader = "CF-IPCountry"
	}
	if c.Policy.IPHeader == "" {
		c.Policy.IPHeader = "CF-Connecting-IP"
	}
	if c.Rewrite.MaxBodyBytes == 0 {
		c.Rewrite.MaxBodyBytes = 32 * 1024 * 1024 // 32 MB
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
