package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/arrsync/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  listen_addr: ":9000"

database:
  path: "/tmp/arrsync-test.db"

api:
  tokens:
    - name: "ops"
      token_hash: "$2a$10$abcdefghijklmnopqrstuv"

instances:
  - id: "radarr-main"
    name: "Radarr 4K"
    service_type: "radarr"
    base_url: "http://radarr:7878"
    api_key: "secret"
  - id: "sonarr-main"
    service_type: "sonarr"
    base_url: "http://sonarr:8989"
    api_key: "secret"
    timeout: 5s

upstream:
  enabled: true

scheduler:
  enabled: true
  interval: 6h

deploy:
  require_resolution: true
  default_strategy: "auto"

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %v, want :9000", cfg.Server.ListenAddr)
	}
	if len(cfg.Instances) != 2 {
		t.Fatalf("Instances = %d, want 2", len(cfg.Instances))
	}
	if cfg.Instances[0].Timeout != 30*time.Second {
		t.Errorf("Instances[0].Timeout = %v, want 30s", cfg.Instances[0].Timeout)
	}
	if cfg.Instances[1].Timeout != 5*time.Second {
		t.Errorf("Instances[1].Timeout = %v, want 5s", cfg.Instances[1].Timeout)
	}
	if cfg.Instances[1].Name != "sonarr-main" {
		t.Errorf("Instances[1].Name = %v, want id as name", cfg.Instances[1].Name)
	}
	if cfg.Scheduler.Interval != 6*time.Hour {
		t.Errorf("Scheduler.Interval = %v, want 6h", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.RecentWindow != 24*time.Hour {
		t.Errorf("Scheduler.RecentWindow = %v, want 24h", cfg.Scheduler.RecentWindow)
	}
	if !cfg.Deploy.RequireResolution {
		t.Error("Deploy.RequireResolution = false, want true")
	}
	if cfg.Deploy.DefaultStrategy != models.StrategyAuto {
		t.Errorf("Deploy.DefaultStrategy = %v, want auto", cfg.Deploy.DefaultStrategy)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %v, want text", cfg.Logging.Format)
	}
	if inst := cfg.GetInstance("radarr-main"); inst == nil || inst.Name != "Radarr 4K" {
		t.Errorf("GetInstance(radarr-main) = %+v", inst)
	}
	if cfg.GetInstance("missing") != nil {
		t.Error("GetInstance(missing) should be nil")
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8089" {
		t.Errorf("ListenAddr = %v, want :8089", cfg.Server.ListenAddr)
	}
	if cfg.Scheduler.Interval != 12*time.Hour {
		t.Errorf("Scheduler.Interval = %v, want 12h", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.MaxParallel != 4 {
		t.Errorf("Scheduler.MaxParallel = %v, want 4", cfg.Scheduler.MaxParallel)
	}
	if cfg.Deploy.DefaultStrategy != models.StrategyNotify {
		t.Errorf("Deploy.DefaultStrategy = %v, want notify", cfg.Deploy.DefaultStrategy)
	}
	if cfg.Upstream.Branch != "master" {
		t.Errorf("Upstream.Branch = %v, want master", cfg.Upstream.Branch)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %v, want /metrics", cfg.Metrics.Path)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "duplicate instance",
			content: `
instances:
  - {id: a, service_type: radarr, base_url: "http://a", api_key: k}
  - {id: a, service_type: radarr, base_url: "http://b", api_key: k}
`,
			wantErr: "duplicate instance id",
		},
		{
			name: "bad service type",
			content: `
instances:
  - {id: a, service_type: lidarr, base_url: "http://a", api_key: k}
`,
			wantErr: "service_type",
		},
		{
			name: "missing base url",
			content: `
instances:
  - {id: a, service_type: sonarr, api_key: k}
`,
			wantErr: "base_url",
		},
		{
			name: "bad strategy",
			content: `
deploy:
  default_strategy: sometimes
`,
			wantErr: "default_strategy",
		},
		{
			name: "bad log level",
			content: `
logging:
  level: trace
`,
			wantErr: "logging.level",
		},
		{
			name: "scheduler without upstream",
			content: `
scheduler:
  enabled: true
`,
			wantErr: "upstream.enabled",
		},
		{
			name: "token without hash",
			content: `
api:
  tokens:
    - name: ops
`,
			wantErr: "token_hash",
		},
		{
			name: "tls without files",
			content: `
server:
  tls:
    enabled: true
`,
			wantErr: "cert_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("Load() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}
