package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var jsonBuf bytes.Buffer
	NewLogger("info", "json", &jsonBuf).Info("expense.created", "id", "e1")
	if !strings.Contains(jsonBuf.String(), `"msg":"expense.created"`) || !strings.Contains(jsonBuf.String(), `"id":"e1"`) {
		t.Fatalf("json output=%q", jsonBuf.String())
	}

	var prettyBuf bytes.Buffer
	log := NewLogger("debug", "pretty", &prettyBuf)
	log.Debug("expense.created", "id", "e1")
	out := prettyBuf.String()
	if !strings.Contains(out, "[DEBUG] expense.created") || !strings.Contains(out, "id=e1") {
		t.Fatalf("pretty output=%q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("non-terminal writer must not be colored: %q", out)
	}
	if slog.Default() != log {
		t.Fatalf("NewLogger must install the default logger")
	}
}
