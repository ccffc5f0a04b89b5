package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelWarn},
		{"verbose", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")

	if err := Init(Config{Level: "info", Format: "json", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Named("sandbox").Info("command finished", "succeeded", true)
	if err := Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"msg":"command finished"`) {
		t.Errorf("expected JSON message in log, got %q", line)
	}
	if !strings.Contains(line, `"component":"sandbox"`) {
		t.Errorf("expected component attribute in log, got %q", line)
	}

	// Restore a quiet default for other tests in this package.
	if err := Init(Config{Level: "error"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	if err := Init(Config{Level: "warn", Format: "text", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	L().Debug("hidden")
	L().Warn("shown")
	if err := Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug record should be filtered at warn level")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("warn record should be written")
	}

	if err := Init(Config{Level: "error"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
}
