package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"git.sr.ht/~jakintosh/whatshare/internal/config"
	"github.com/fatih/color"
)

func TestNew_JSON(t *testing.T) {
	var out bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &out)

	logger.Debug("hidden")
	logger.Info("credential issued", "identity", "chan999")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), out.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if record["msg"] != "credential issued" || record["identity"] != "chan999" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNew_Text(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug"}, &out)

	logger.With("component", "relay").WithGroup("req").Debug("attempt", "n", 2)

	line := out.String()
	for _, want := range []string{"DBG ", "attempt", "component=relay", "req.n=2"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
