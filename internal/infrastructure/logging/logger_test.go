package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

func TestNew_JSONFormat(t *testing.T) {
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	logger := New(cfg, "1.0.0")

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_TextFormat(t *testing.T) {
	cfg := config.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Output: "stderr",
	}

	logger := New(cfg, "1.0.0")

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{
			name:     "debug level",
			input:    "debug",
			expected: slog.LevelDebug,
		},
		{
			name:     "info level",
			input:    "info",
			expected: slog.LevelInfo,
		},
		{
			name:     "warn level",
			input:    "warn",
			expected: slog.LevelWarn,
		},
		{
			name:     "warning level",
			input:    "warning",
			expected: slog.LevelWarn,
		},
		{
			name:     "error level",
			input:    "error",
			expected: slog.LevelError,
		},
		{
			name:     "unknown defaults to info",
			input:    "unknown",
			expected: slog.LevelInfo,
		},
		{
			name:     "empty defaults to info",
			input:    "",
			expected: slog.LevelInfo,
		},
		{
			name:     "case insensitive",
			input:    "DEBUG",
			expected: slog.LevelDebug,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	logger := New(cfg, "1.0.0")
	childLogger := logger.With("component", "mqtt")

	if childLogger == nil {
		t.Fatal("expected non-nil child logger")
	}

	if childLogger == logger {
		t.Error("expected child logger to be different from parent")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()

	if logger == nil {
		t.Fatal("expected non-nil default logger")
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)
	logger.Info("test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if logEntry["service"] != serviceName {
		t.Errorf("expected service=%q, got %v", serviceName, logEntry["service"])
	}
	if logEntry["version"] != "test" {
		t.Errorf("expected version='test', got %v", logEntry["version"])
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got %v", logEntry["key"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := newWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "test", &buf)
	logger.Info("dropped")
	logger.Warn("kept")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(output, "kept") {
		t.Error("warn entry missing from output")
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.log")
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "file",
		File:   config.FileLoggingConfig{Path: path, MaxSize: 1},
	}

	New(cfg, "1.0.0").Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file content = %q", data)
	}
}
