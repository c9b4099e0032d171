// Package config loads and validates the gateway's YAML configuration,
// applies environment variable overrides, and exposes a hot-reload watcher
// for the fields safe to change without a restart (routing mode, per
// credential disabled flags live in the credentials file, not here).
package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the client-facing HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// KiroConfig describes how to reach the upstream Kiro provider.
type KiroConfig struct {
	Region          string `yaml:"region"`
	AuthRegion      string `yaml:"auth_region"`
	APIRegion       string `yaml:"api_region"`
	KiroVersion     string `yaml:"kiro_version"`
	MachineID       string `yaml:"machine_id"`
	APIKey          string `yaml:"api_key"`
	SystemVersion   string `yaml:"system_version"`
	NodeVersion     string `yaml:"node_version"`
	TLSBackend      string `yaml:"tls_backend"` // rustls | native-tls (accepted, inert)
	CountTokensURL  string `yaml:"count_tokens_api_url"`
	CountTokensKey  string `yaml:"count_tokens_api_key"`
	CountTokensAuth string `yaml:"count_tokens_auth_type"`
}

// ProxyConfig is the global outbound proxy, overridable per credential.
type ProxyConfig struct {
	URL      string `yaml:"proxy_url"`
	Username string `yaml:"proxy_username"`
	Password string `yaml:"proxy_password"`
}

// AdminConfig configures the admin API's auth.
type AdminConfig struct {
	APIKey   string `yaml:"admin_api_key"`
	Username string `yaml:"admin_username"`
	Password string `yaml:"admin_password"`
}

// RoutingConfig configures the load-balancing policy and sticky/concurrency
// parameters.
type RoutingConfig struct {
	LoadBalancingMode          string `yaml:"load_balancing_mode"` // priority | balanced | sticky
	MaxConcurrentPerCredential int    `yaml:"max_concurrent_per_credential"`
	MaxConcurrentPerKey        int    `yaml:"max_concurrent_per_key"`
	StickyExpiryMinutes        int    `yaml:"sticky_expiry_minutes"`
	ZombieStreamTimeoutMinutes int    `yaml:"zombie_stream_timeout_minutes"`
	ConsecutiveFailLimit       int    `yaml:"consecutive_fail_limit"`
	RefreshAheadSeconds        int    `yaml:"refresh_ahead_seconds"`
}

// LoggingConfig configures the structured logger and request-log buffer.
type LoggingConfig struct {
	Level             string `yaml:"log_level"`
	Format            string `yaml:"log_format"` // text | json
	RequestLogEnabled bool   `yaml:"request_log_enabled"`
	MetricsEnabled    bool   `yaml:"metrics_enabled"`
}

// StorageConfig locates the credentials file and the API key database.
type StorageConfig struct {
	ConfigDir       string `yaml:"config_dir"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Config is the full gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Kiro    KiroConfig    `yaml:"kiro"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Admin   AdminConfig   `yaml:"admin"`
	Routing RoutingConfig `yaml:"routing"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`

	// routingMode shadows Routing.LoadBalancingMode behind an atomic so the
	// fsnotify-driven config watcher can hot-swap it without a data race
	// against concurrent request handlers reading it.
	routingMode atomic.Value
}

// Defaults returns a Config populated with this gateway's documented defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Kiro: KiroConfig{
			Region:     "us-east-1",
			AuthRegion: "us-east-1",
			APIRegion:  "us-east-1",
			TLSBackend: "rustls",
		},
		Routing: RoutingConfig{
			LoadBalancingMode:          "priority",
			MaxConcurrentPerCredential: 2,
			MaxConcurrentPerKey:        5,
			StickyExpiryMinutes:        30,
			ZombieStreamTimeoutMinutes: 15,
			ConsecutiveFailLimit:       3,
			RefreshAheadSeconds:        180,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{ConfigDir: ".", CredentialsFile: "credentials.json"},
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment variable overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.routingMode.Store(cfg.Routing.LoadBalancingMode)
	return cfg, nil
}

// RoutingMode returns the live load-balancing policy, reflecting any
// hot-reload applied by Watch since startup.
func (c *Config) RoutingMode() string {
	if v, ok := c.routingMode.Load().(string); ok && v != "" {
		return v
	}
	return c.Routing.LoadBalancingMode
}

// SetRoutingMode hot-swaps the live load-balancing policy. Called by the
// config file watcher and by the admin PUT /routing-mode handler.
func (c *Config) SetRoutingMode(mode string) {
	c.Routing.LoadBalancingMode = mode
	c.routingMode.Store(mode)
}

// Validate rejects unrecognized enum values at startup, per §10.
func (c *Config) Validate() error {
	switch c.Routing.LoadBalancingMode {
	case "priority", "balanced", "sticky":
	default:
		return fmt.Errorf("invalid load_balancing_mode %q", c.Routing.LoadBalancingMode)
	}
	switch strings.ToLower(c.Kiro.TLSBackend) {
	case "", "rustls", "native-tls":
	default:
		return fmt.Errorf("invalid tls_backend %q", c.Kiro.TLSBackend)
	}
	if c.Routing.MaxConcurrentPerCredential <= 0 {
		return fmt.Errorf("max_concurrent_per_credential must be positive")
	}
	if c.Routing.MaxConcurrentPerKey <= 0 {
		return fmt.Errorf("max_concurrent_per_key must be positive")
	}
	return nil
}

// StickyExpiry and ZombieStreamTimeout convert the minute-granularity
// configuration fields into durations for the sticky package.
func (c *Config) StickyExpiry() time.Duration {
	return time.Duration(c.Routing.StickyExpiryMinutes) * time.Minute
}

func (c *Config) ZombieStreamTimeout() time.Duration {
	return time.Duration(c.Routing.ZombieStreamTimeoutMinutes) * time.Minute
}

// CredentialsPath resolves the credentials file relative to the config dir.
func (c *Config) CredentialsPath() string {
	if strings.HasPrefix(c.Storage.CredentialsFile, "/") {
		return c.Storage.CredentialsFile
	}
	return strings.TrimSuffix(c.Storage.ConfigDir, "/") + "/" + c.Storage.CredentialsFile
}

// APIKeysDBPath is "<config_dir>/api_keys.db".
func (c *Config) APIKeysDBPath() string {
	return strings.TrimSuffix(c.Storage.ConfigDir, "/") + "/api_keys.db"
}
