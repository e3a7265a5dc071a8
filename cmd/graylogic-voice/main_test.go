package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-voice/internal/api"
	"github.com/nerrad567/gray-logic-voice/internal/command"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeConfig writes a config with one Home Assistant backend and returns
// its path. The backend is never contacted.
func writeConfig(t *testing.T, port int) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	content := fmt.Sprintf(`
database:
  path: %q
  wal_mode: true
  busy_timeout: 5

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %d

security:
  jwt:
    secret: %q
    issuer: graylogic
  rate_limit:
    enabled: false

grammar:
  action_profiles:
    Fans:
      - name: "on"
      - name: speed
        value: percent

backends:
  - id: home
    type: homeassistant
    url: "http://127.0.0.1:1"
    sync_on_start: false
`, filepath.Join(tmpDir, "test.db"), port, testSecret)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func setConfigEnv(t *testing.T, path string) {
	t.Helper()
	t.Setenv("GRAYLOGIC_CONFIG", path)
	configFlag = ""
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	setConfigEnv(t, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Cleanup(func() { configFlag = "" })

	t.Setenv("GRAYLOGIC_CONFIG", "")
	configFlag = ""
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("default: getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("env: getConfigPath() = %q", got)
	}

	configFlag = "/flag/config.yaml"
	if got := getConfigPath(); got != "/flag/config.yaml" {
		t.Errorf("flag: getConfigPath() = %q", got)
	}
}

// TestRun_StartupAndShutdown starts the full core with an unreachable
// backend and stops it by cancelling the context.
func TestRun_StartupAndShutdown(t *testing.T) {
	setConfigEnv(t, writeConfig(t, freePort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

func TestLoadProfiles(t *testing.T) {
	profiles, err := loadProfiles(config.GrammarConfig{
		ActionProfiles: map[string][]config.ActionConfig{
			"Fans":   {{Name: "on"}, {Name: "speed", Value: "percent"}},
			"lights": {{Name: "on"}},
		},
	})
	if err != nil {
		t.Fatalf("loadProfiles() error = %v", err)
	}
	fans := profiles.For("fans")
	if len(fans) != 2 || fans[1].Value != grammar.ValuePercent {
		t.Errorf("fans profile = %+v", fans)
	}
	if len(profiles.For("lights")) != 1 {
		t.Errorf("lights profile should be replaced: %+v", profiles.For("lights"))
	}
	if len(profiles.For("heating")) == 0 {
		t.Error("default heating profile lost")
	}

	_, err = loadProfiles(config.GrammarConfig{
		ActionProfiles: map[string][]config.ActionConfig{"fans": {{Name: "speed", Value: "rpm"}}},
	})
	if !errors.Is(err, grammar.ErrInvalidValueKind) {
		t.Errorf("loadProfiles(bad kind) error = %v, want ErrInvalidValueKind", err)
	}
}

func TestCommandTiming(t *testing.T) {
	res := &dispatch.Result{
		Topic:         "kitchen",
		Backend:       "home",
		Command:       &command.Command{Action: "on", DeviceType: "lights", Location: "kitchen"},
		MappingSource: dispatch.SourceExplicit,
		Outcome:       dispatch.OutcomeSuccess,
		Timings:       dispatch.Timings{Backend: 5 * time.Millisecond, Total: 20 * time.Millisecond},
	}
	got := commandTiming(res)
	if got.DeviceType != "lights" || got.Action != "on" || got.MappingSource != "explicit_mapping" || got.Outcome != "success" {
		t.Errorf("commandTiming() = %+v", got)
	}
	if got.Stages["total"] != 20*time.Millisecond {
		t.Errorf("stages = %v", got.Stages)
	}

	noCmd := commandTiming(&dispatch.Result{Topic: "kitchen", Outcome: dispatch.OutcomeMalformed})
	if noCmd.DeviceType != "" || noCmd.Outcome != "malformed_output" {
		t.Errorf("commandTiming(no command) = %+v", noCmd)
	}
}

// seedConflict stores a mapping where two lights share lights@kitchen.
func seedConflict(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		t.Fatalf("openDatabase() error = %v", err)
	}
	defer db.Close()

	reg, err := loadRegistry(ctx, db, "home", quietLogger())
	if err != nil {
		t.Fatalf("loadRegistry() error = %v", err)
	}
	area := "Kitchen"
	if _, err := reg.UpsertDevices(ctx, []device.Device{
		{ID: "light.a", Domain: "light", OriginalName: "A", OriginalArea: &area},
		{ID: "light.b", Domain: "light", OriginalName: "B", OriginalArea: &area},
	}, device.UpsertOptions{}); err != nil {
		t.Fatalf("UpsertDevices() error = %v", err)
	}
	for _, id := range []string{"light.a", "light.b"} {
		if _, err := reg.Assign(ctx, id, device.Set("lights"), device.Set("kitchen")); err != nil {
			t.Fatalf("Assign(%s) error = %v", id, err)
		}
		if _, err := reg.SetEnabled(ctx, id, true); err != nil {
			t.Fatalf("SetEnabled(%s) error = %v", id, err)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		grammarCmd.Flags().Set("format", "gbnf") //nolint:errcheck // known flag
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	setConfigEnv(t, writeConfig(t, 8090))

	out, err := execute(t, "validate")
	if err != nil || !strings.Contains(out, "no conflicts") {
		t.Fatalf("validate on empty mapping = %q, %v", out, err)
	}

	seedConflict(t)
	out, err = execute(t, "validate", "home")
	if !errors.Is(err, errConflicts) {
		t.Errorf("validate error = %v, want errConflicts", err)
	}
	for _, want := range []string{"lights in kitchen", "light.a", "light.b"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "validate", "away"); err == nil {
		t.Error("validate of unconfigured backend should fail")
	}
}

func TestGrammarCommand(t *testing.T) {
	setConfigEnv(t, writeConfig(t, 8090))
	seedConflict(t)

	out, err := execute(t, "grammar", "home")
	if err != nil {
		t.Fatalf("grammar error = %v", err)
	}
	// Both lights conflict, so only the noop sentence remains.
	if !strings.Contains(out, "root ::= noop") {
		t.Errorf("grammar = %s", out)
	}

	if _, err := execute(t, "grammar", "home", "--format", "yaml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestTokenCommand(t *testing.T) {
	setConfigEnv(t, writeConfig(t, 8090))

	out, err := execute(t, "token", "--subject", "ops")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := api.ParseToken(strings.TrimSpace(out), config.JWTConfig{Secret: testSecret, Issuer: "graylogic"})
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("subject = %q, want ops", claims.Subject)
	}
}
