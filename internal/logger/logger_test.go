package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigure(t *testing.T) {
	var buf bytes.Buffer
	Configure("warn", "text", &buf)
	defer Configure("info", "json", nil)

	Info("hidden")
	Error("Fetch failed", errors.New("timeout"), "url", "https://example.com")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "error=timeout") || !strings.Contains(out, "url=https://example.com") {
		t.Errorf("unexpected text output: %q", out)
	}
}
