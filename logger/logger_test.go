package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	log.Info().Str("provider", "ollama").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON log line: %v", err)
	}
	if entry["provider"] != "ollama" || entry["message"] != "visible" {
		t.Errorf("Unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected a timestamp")
	}
}

func TestInitWithOptionsFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	path := filepath.Join(t.TempDir(), "test.log")

	log, err := InitWithOptions(path, false)
	if err != nil {
		t.Fatalf("InitWithOptions failed: %v", err)
	}
	log.Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Errorf("Expected message in log file, got %q", data)
	}
}

func TestInitWithOptionsBadPath(t *testing.T) {
	if _, err := InitWithOptions(filepath.Join(t.TempDir(), "missing", "x.log"), false); err == nil {
		t.Error("Expected error for unwritable log path")
	}
}
