package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/airules/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	s := cfg.EndpointSettings()
	if err := s.Validate(); err != nil {
		t.Errorf("default endpoint settings invalid: %v", err)
	}
	if !s.AllowBundledFallback {
		t.Error("bundled fallback should default to on")
	}
}

func TestConfig_RemoteValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"relative list":  func(c *Config) { c.Remote.ListEndpoint = "/recipes" },
		"zero timeout":   func(c *Config) { c.Remote.Timeout = 0 },
		"zero workers":   func(c *Config) { c.Remote.Workers = 0 },
		"negative ttl":   func(c *Config) { c.Cache.TTL = -time.Minute },
		"empty cache":    func(c *Config) { c.Cache.Dir = "" },
		"bad log format": func(c *Config) { c.App.LogFormat = "xml" },
		"auth no token":  func(c *Config) { c.Auth.Mode = AuthModeToken },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRemoteConfig_BearerToken(t *testing.T) {
	c := RemoteConfig{GitHubToken: "gh"}
	if c.BearerToken() != "gh" {
		t.Errorf("token = %q, want gh", c.BearerToken())
	}
	c.Token = "own"
	if c.BearerToken() != "own" {
		t.Errorf("token = %q, want own", c.BearerToken())
	}
}

func TestConfig_LoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	body := `
app:
  log_level: debug
  http:
    port: 9090
remote:
  list_endpoint: https://api.example.com/contents/recipes
  timeout: 3s
cache:
  dir: ` + filepath.Join(dir, "cache") + `
  ttl: 2h
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("AIRULES_CACHE_TTL", "30m")
	t.Setenv("AIRULES_LOG_LEVEL", "warn")

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 {
		t.Errorf("port = %d", cfg.App.HTTP.Port)
	}
	if cfg.App.LogLevel != slog.LevelWarn {
		t.Errorf("log level = %v, want env override", cfg.App.LogLevel)
	}
	if cfg.Remote.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", cfg.Remote.Timeout)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("ttl = %v, want env override", cfg.Cache.TTL)
	}
	if cfg.Remote.BearerToken() != "ghp_test" {
		t.Errorf("token = %q", cfg.Remote.BearerToken())
	}
	if cfg.Remote.Workers == 0 {
		t.Error("defaults should survive a partial file")
	}
}

func TestConfig_SampleFileLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(filepath.Join("..", "config", "config.yaml"), cfg); err != nil {
		t.Fatalf("sample config: %v", err)
	}
	if cfg.Cache.TTL != 24*time.Hour || cfg.SQLite.Path != "" {
		t.Errorf("config = %+v", cfg)
	}
}
