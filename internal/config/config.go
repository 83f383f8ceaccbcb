package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/arrsync/internal/models"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Cache     CacheConfig      `yaml:"cache"`
	API       APIConfig        `yaml:"api"`
	Instances []InstanceConfig `yaml:"instances"`
	Upstream  UpstreamConfig   `yaml:"upstream"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Deploy    DeployConfig     `yaml:"deploy"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	TLS          TLSConfig     `yaml:"tls"`
	AllowedIPs   []string      `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to reach the API, empty allows all
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig points at the bbolt file holding upstream catalogs and instance snapshots
type CacheConfig struct {
	Path string `yaml:"path"`
}

// APIConfig contains engine API authentication
type APIConfig struct {
	Tokens []APIToken `yaml:"tokens"`
}

// APIToken is a named bearer token; the name becomes the deployer identity
type APIToken struct {
	Name      string `yaml:"name"`
	TokenHash string `yaml:"token_hash"` // bcrypt hash, see `arrsync token hash`
}

// InstanceConfig describes one managed Radarr/Sonarr instance
type InstanceConfig struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	ServiceType models.ServiceType `yaml:"service_type"`
	BaseURL     string             `yaml:"base_url"`
	APIKey      string             `yaml:"api_key"`
	Timeout     time.Duration      `yaml:"timeout"`
}

// UpstreamConfig describes the git repository templates are derived from
type UpstreamConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Branch   string        `yaml:"branch"`
	CloneDir string        `yaml:"clone_dir"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	RecentWindow time.Duration `yaml:"recent_window"` // how long a mapping shows as recently auto-synced
	MaxParallel  int           `yaml:"max_parallel"`
}

type DeployConfig struct {
	MaxParallel       int                 `yaml:"max_parallel"`
	RequireResolution bool                `yaml:"require_resolution"` // conflicts must be resolved explicitly before apply
	DefaultStrategy   models.SyncStrategy `yaml:"default_strategy"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9091
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8089"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// bulk deployments answer after every instance finished
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/arrsync/arrsync.db"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "/var/lib/arrsync/cache.db"
	}

	for i := range c.Instances {
		if c.Instances[i].Timeout == 0 {
			c.Instances[i].Timeout = 30 * time.Second
		}
		if c.Instances[i].Name == "" {
			c.Instances[i].Name = c.Instances[i].ID
		}
	}

	if c.Upstream.URL == "" {
		c.Upstream.URL = "https://github.com/TRaSH-Guides/Guides.git"
	}
	if c.Upstream.Branch == "" {
		c.Upstream.Branch = "master"
	}
	if c.Upstream.CloneDir == "" {
		c.Upstream.CloneDir = "/var/lib/arrsync/upstream"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 2 * time.Minute
	}

	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 12 * time.Hour
	}
	if c.Scheduler.RecentWindow == 0 {
		c.Scheduler.RecentWindow = 24 * time.Hour
	}
	if c.Scheduler.MaxParallel == 0 {
		c.Scheduler.MaxParallel = 4
	}

	if c.Deploy.MaxParallel == 0 {
		c.Deploy.MaxParallel = 8
	}
	if c.Deploy.DefaultStrategy == "" {
		c.Deploy.DefaultStrategy = models.DefaultSyncStrategy
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9091"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
		}
	}

	for i, tok := range c.API.Tokens {
		if tok.Name == "" {
			return fmt.Errorf("api.tokens[%d].name is required", i)
		}
		if tok.TokenHash == "" {
			return fmt.Errorf("api.tokens[%d].token_hash is required", i)
		}
	}

	if err := c.validateInstances(); err != nil {
		return err
	}

	if c.Upstream.Enabled && c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required when upstream is enabled")
	}

	if c.Scheduler.Enabled && !c.Upstream.Enabled {
		return fmt.Errorf("scheduler requires upstream.enabled")
	}
	if c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("scheduler.interval must be at least 1m")
	}
	if c.Scheduler.MaxParallel < 0 || c.Deploy.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must not be negative")
	}

	if !c.Deploy.DefaultStrategy.Valid() {
		return fmt.Errorf("invalid deploy.default_strategy: %s (must be auto, notify, or manual)", c.Deploy.DefaultStrategy)
	}

	return nil
}

func (c *Config) validateInstances() error {
	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.ID == "" {
			return fmt.Errorf("instances[%d].id is required", i)
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instance id %q", inst.ID)
		}
		seen[inst.ID] = true

		if !inst.ServiceType.Valid() {
			return fmt.Errorf("instances[%d].service_type must be radarr or sonarr", i)
		}
		if inst.BaseURL == "" {
			return fmt.Errorf("instances[%d].base_url is required", i)
		}
		if inst.APIKey == "" {
			return fmt.Errorf("instances[%d].api_key is required", i)
		}
	}
	return nil
}

// GetInstance returns the instance config by id
func (c *Config) GetInstance(id string) *InstanceConfig {
	for i := range c.Instances {
		if c.Instances[i].ID == id {
			return &c.Instances[i]
		}
	}
	return nil
}
