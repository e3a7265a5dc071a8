package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 8090
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
grammar:
  action_profiles:
    fan:
      - name: "on"
      - name: "off"
      - name: "speed"
        value: "percent"
backends:
  - id: "home"
    type: "homeassistant"
    url: "http://ha.local:8123"
    default_device: "light.hallway"
    legacy_mappings:
      - device_type: "lights"
        location: "porch"
        device_id: "light.porch"
  - id: "knx"
    type: "mqtt"
    protocol: "knx"
topics:
  - id: "living-room"
    model: "qwen2.5-1.5b"
    backend: "home"
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("len(Backends) = %d, want 2", len(cfg.Backends))
	}

	home, ok := cfg.Backend("home")
	if !ok {
		t.Fatal("Backend(home) not found")
	}
	if home.Timeout != defaultBackendTimeout {
		t.Errorf("home.Timeout = %d, want default %d", home.Timeout, defaultBackendTimeout)
	}
	if len(home.LegacyMappings) != 1 || home.LegacyMappings[0].DeviceID != "light.porch" {
		t.Errorf("home.LegacyMappings = %+v", home.LegacyMappings)
	}

	knx, _ := cfg.Backend("knx")
	if knx.DiscoveryWindow != defaultDiscoveryWindow {
		t.Errorf("knx.DiscoveryWindow = %d, want %d", knx.DiscoveryWindow, defaultDiscoveryWindow)
	}
	if !cfg.HasMQTTBackend() {
		t.Error("HasMQTTBackend() = false, want true")
	}

	if got := len(cfg.Grammar.ActionProfiles["fan"]); got != 3 {
		t.Errorf("fan profile actions = %d, want 3", got)
	}

	// Defaults survive partial files.
	if cfg.History.Size != 256 {
		t.Errorf("History.Size = %d, want default 256", cfg.History.Size)
	}
	if cfg.Inference.BaseURL == "" {
		t.Error("Inference.BaseURL default missing")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
security:
  jwt:
    secret: "short"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("error = %v, want mention of security.jwt.secret", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
backends:
  - id: "main-hub"
    type: "homeassistant"
    url: "http://ha.local:8123"
    token: "from-file"
`)
	t.Setenv("GRAYLOGIC_JWT_SECRET", validJWTSecret)
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/var/lib/voice.db")
	t.Setenv("GRAYLOGIC_BACKEND_MAIN_HUB_TOKEN", "from-env")
	t.Setenv("GRAYLOGIC_INFERENCE_URL", "http://gpu:8080/v1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/var/lib/voice.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Backends[0].Token != "from-env" {
		t.Errorf("backend token = %q, want from-env", cfg.Backends[0].Token)
	}
	if cfg.Inference.BaseURL != "http://gpu:8080/v1" {
		t.Errorf("Inference.BaseURL = %q", cfg.Inference.BaseURL)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		cfg.Backends = []BackendConfig{{ID: "home", Type: "homeassistant", URL: "http://ha"}}
		cfg.Topics = []TopicConfig{{ID: "kitchen", Model: "m", Backend: "home"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "GRAYLOGIC_JWT_SECRET",
		},
		{
			name:    "zero history",
			mutate:  func(c *Config) { c.History.Size = 0 },
			wantErr: "history.size",
		},
		{
			name: "duplicate backend",
			mutate: func(c *Config) {
				c.Backends = append(c.Backends, BackendConfig{ID: "home", Type: "mqtt"})
			},
			wantErr: "duplicated",
		},
		{
			name:    "homeassistant without url",
			mutate:  func(c *Config) { c.Backends[0].URL = "" },
			wantErr: "url is required",
		},
		{
			name:    "topic references unknown backend",
			mutate:  func(c *Config) { c.Topics[0].Backend = "nowhere" },
			wantErr: "not a configured backend",
		},
		{
			name: "unknown value kind",
			mutate: func(c *Config) {
				c.Grammar.ActionProfiles = map[string][]ActionConfig{
					"fan": {{Name: "speed", Value: "rpm"}},
				}
			},
			wantErr: "unknown value kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
