package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
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
	if logger.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want %v", logger.Level(), slog.LevelDebug)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug level", input: "debug", expected: slog.LevelDebug},
		{name: "info level", input: "info", expected: slog.LevelInfo},
		{name: "warn level", input: "warn", expected: slog.LevelWarn},
		{name: "warning level", input: "warning", expected: slog.LevelWarn},
		{name: "error level", input: "error", expected: slog.LevelError},
		{name: "unknown defaults to info", input: "unknown", expected: slog.LevelInfo},
		{name: "empty defaults to info", input: "", expected: slog.LevelInfo},
		{name: "case insensitive", input: "DEBUG", expected: slog.LevelDebug},
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

func TestVerbosityLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		expected  slog.Level
	}{
		{-1, levelOff},
		{0, levelOff},
		{1, slog.LevelError},
		{2, slog.LevelInfo},
		{3, slog.LevelDebug},
		{9, slog.LevelDebug},
	}

	for _, tt := range tests {
		if got := VerbosityLevel(tt.verbosity); got != tt.expected {
			t.Errorf("VerbosityLevel(%d) = %v, want %v", tt.verbosity, got, tt.expected)
		}
	}
}

func TestLogger_SetVerbosity(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test")
	child := logger.With("component", "broker")

	logger.SetVerbosity(VerbosityOff)
	child.Error("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected no output at verbosity 0, got %q", buf.String())
	}

	logger.SetVerbosity(VerbosityError)
	child.Info("still suppressed")
	child.Error("visible")
	if strings.Contains(buf.String(), "still suppressed") {
		t.Error("info record emitted at verbosity 1")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("error record missing at verbosity 1")
	}

	buf.Reset()
	child.SetVerbosity(VerbosityVerbose)
	logger.Debug("debug record")
	if !strings.Contains(buf.String(), "debug record") {
		t.Error("child SetVerbosity did not reach parent")
	}
}

func TestLogger_With(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "1.0.0")
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

	logger := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test-version")
	logger.Info("test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if logEntry["service"] != "graynode" {
		t.Errorf("expected service='graynode', got %v", logEntry["service"])
	}
	if logEntry["version"] != "test-version" {
		t.Errorf("expected version='test-version', got %v", logEntry["version"])
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got %v", logEntry["key"])
	}
}
