package internal

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	originalLevel := logLevel
	t.Cleanup(func() {
		SetLogOutput(os.Stderr, false)
		SetLogLevel(originalLevel)
	})
}

func TestSetLogLevel(t *testing.T) {
	restoreLogger(t)

	SetLogLevel(LogLevelDebug)
	if logLevel != LogLevelDebug {
		t.Errorf("SetLogLevel() logLevel = %v, want LogLevelDebug", logLevel)
	}

	SetLogLevel(LogLevelError)
	if logLevel != LogLevelError {
		t.Errorf("SetLogLevel() logLevel = %v, want LogLevelError", logLevel)
	}
}

func TestSetVerbose(t *testing.T) {
	restoreLogger(t)

	SetVerbose(true)
	if logLevel != LogLevelDebug {
		t.Errorf("SetVerbose(true) logLevel = %v, want LogLevelDebug", logLevel)
	}

	SetVerbose(false)
	if logLevel != LogLevelInfo {
		t.Errorf("SetVerbose(false) logLevel = %v, want LogLevelInfo", logLevel)
	}
}

func TestLogLevelGate(t *testing.T) {
	restoreLogger(t)

	var buf bytes.Buffer
	SetLogOutput(&buf, true)
	SetLogLevel(LogLevelWarn)

	LogDebug("debug %d", 1)
	LogInfo("info %d", 2)
	LogWarn("warn %d", 3)
	LogError("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below the level should be dropped, got: %q", out)
	}
	if !strings.Contains(out, "warn 3") || !strings.Contains(out, "error 4") {
		t.Errorf("messages at or above the level should be written, got: %q", out)
	}
}

func TestSetLogOutput_JSON(t *testing.T) {
	restoreLogger(t)

	var buf bytes.Buffer
	SetLogOutput(&buf, true)
	SetLogLevel(LogLevelInfo)

	Logger().Info().Str("topic", "chat_sessions:u1").Msg("subscribed")

	out := buf.String()
	if !strings.HasPrefix(out, "{") {
		t.Errorf("JSON output should start with '{', got: %q", out)
	}
	if !strings.Contains(out, `"topic":"chat_sessions:u1"`) {
		t.Errorf("JSON output should carry fields, got: %q", out)
	}
}

func TestLogLevels(t *testing.T) {
	if LogLevelError >= LogLevelWarn {
		t.Error("LogLevelError should be less than LogLevelWarn")
	}
	if LogLevelWarn >= LogLevelInfo {
		t.Error("LogLevelWarn should be less than LogLevelInfo")
	}
	if LogLevelInfo >= LogLevelDebug {
		t.Error("LogLevelInfo should be less than LogLevelDebug")
	}
}
