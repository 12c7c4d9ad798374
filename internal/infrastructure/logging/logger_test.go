package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

func TestNew_JSONFormat(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "site-a", "1.0.0")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_TextFormat(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, "site-a", "1.0.0")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_FileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: "file", Dir: dir}, "uao", "1.0.0")
	logger.Info("sunset computed")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "uao_") || !strings.HasSuffix(name, ".log") {
		t.Errorf("log file name = %q, want uao_*.log", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "sunset computed") {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestRunFileName(t *testing.T) {
	now := time.Date(2026, 3, 4, 18, 5, 9, 0, time.UTC)
	if got := RunFileName("uao", now); got != "uao_20260304_180509.log" {
		t.Errorf("RunFileName() = %q, want uao_20260304_180509.log", got)
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

func TestLogger_With(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "site-a", "1.0.0")
	childLogger := logger.With("component", "power")

	if childLogger == nil {
		t.Fatal("expected non-nil child logger")
	}
	if childLogger == logger {
		t.Error("expected child logger to be different from parent")
	}
	if err := childLogger.Close(); err != nil {
		t.Errorf("child Close() error = %v, want nil", err)
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}).
		WithAttrs([]slog.Attr{
			slog.String("service", "nightscan"),
			slog.String("site", "uao"),
		})

	logger := &Logger{Logger: slog.New(handler)}
	logger.Info("test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if logEntry["service"] != "nightscan" {
		t.Errorf("expected service=nightscan, got %v", logEntry["service"])
	}
	if logEntry["site"] != "uao" {
		t.Errorf("expected site=uao, got %v", logEntry["site"])
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got %v", logEntry["key"])
	}
	if _, ok := logEntry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}
