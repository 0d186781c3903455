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

func TestNewLogHandler_Formats(t *testing.T) {
	t.Parallel()

	var jsonBuf, prettyBuf bytes.Buffer

	slog.New(newLogHandler(&jsonBuf, slog.LevelInfo, "json")).Info("server.start", "addr", ":8080")
	slog.New(newLogHandler(&prettyBuf, slog.LevelInfo, "PRETTY")).Info("server.start", "addr", ":8080")

	if !strings.HasPrefix(jsonBuf.String(), "{") || !strings.Contains(jsonBuf.String(), `"msg":"server.start"`) {
		t.Fatalf("json output: %q", jsonBuf.String())
	}
	if strings.HasPrefix(prettyBuf.String(), "{") || !strings.Contains(prettyBuf.String(), "server.start") {
		t.Fatalf("pretty output: %q", prettyBuf.String())
	}

	var quiet bytes.Buffer
	slog.New(newLogHandler(&quiet, slog.LevelWarn, "json")).Info("dropped")
	if quiet.Len() != 0 {
		t.Fatalf("info emitted at warn level: %q", quiet.String())
	}
}
