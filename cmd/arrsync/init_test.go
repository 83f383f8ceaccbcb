package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/models"
)

func TestGenerateRandomString(t *testing.T) {
	// Test that it generates strings of correct length
	lengths := []int{8, 16, 32, 64}

	for _, length := range lengths {
		result := generateRandomString(length)
		if len(result) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(result))
		}
	}

	// Test that it generates different strings
	s1 := generateRandomString(32)
	s2 := generateRandomString(32)
	if s1 == s2 {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestGenerateConfig_Loads(t *testing.T) {
	dir := t.TempDir()
	initDataDir = dir
	initListen = ":9000"
	initRadarrURL = "http://radarr:7878"
	initRadarrKey = "rkey"
	initSonarrURL = "http://sonarr:8989"
	initSonarrKey = "skey"
	initUpstream = true

	hash, err := hashToken("secret-token")
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "arrsync.yaml")
	if err := os.WriteFile(path, []byte(generateConfig(hash)), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Database.Path != filepath.Join(dir, "arrsync.db") {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if len(cfg.Instances) != 2 {
		t.Fatalf("instances = %d, want 2", len(cfg.Instances))
	}
	if cfg.Instances[1].ServiceType != models.ServiceSonarr || cfg.Instances[1].APIKey != "skey" {
		t.Errorf("unexpected sonarr instance: %+v", cfg.Instances[1])
	}
	if !cfg.Upstream.Enabled || !cfg.Scheduler.Enabled {
		t.Error("upstream and scheduler should be enabled")
	}
	if len(cfg.API.Tokens) != 1 {
		t.Fatalf("tokens = %d, want 1", len(cfg.API.Tokens))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.API.Tokens[0].TokenHash), []byte("secret-token")); err != nil {
		t.Errorf("token hash does not match: %v", err)
	}
}

func TestGenerateConfig_SingleInstance(t *testing.T) {
	initDataDir = "/var/lib/arrsync"
	initRadarrURL = "http://radarr:7878"
	initRadarrKey = "rkey"
	initSonarrURL = ""
	initSonarrKey = ""
	initUpstream = false

	out := generateConfig("hash")

	if strings.Contains(out, "service_type: sonarr") {
		t.Error("sonarr instance should be omitted")
	}
	checks := []string{
		`base_url: "http://radarr:7878"`,
		`token_hash: "hash"`,
		"enabled: false",
	}
	for _, check := range checks {
		if !strings.Contains(out, check) {
			t.Errorf("Generated config missing: %s", check)
		}
	}
}

func TestTokenEntry(t *testing.T) {
	got := tokenEntry("ci", "$2a$10$abc")
	want := "api:\n  tokens:\n    - name: \"ci\"\n      token_hash: \"$2a$10$abc\"\n"
	if got != want {
		t.Errorf("tokenEntry() = %q, want %q", got, want)
	}
}

func TestShortCommit(t *testing.T) {
	tests := map[string]string{
		"":                 "-",
		"abc123":           "abc123",
		"0123456789abcdef": "0123456789",
	}
	for in, want := range tests {
		if got := shortCommit(in); got != want {
			t.Errorf("shortCommit(%q) = %q, want %q", in, got, want)
		}
	}
}
