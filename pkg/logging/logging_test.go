package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, "DEBUG": LevelDebug, "dEbUg": LevelDebug,
		"info": LevelInfo, "Info": LevelInfo,
		"warn": LevelWarn, "Warning": LevelWarn,
		"error": LevelError, "ERROR": LevelError,
		"": LevelInfo, "trace": LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"json": FormatJSON, "JSON": FormatJSON,
		"text": FormatText, "": FormatText, "yaml": FormatText,
	} {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_TeesToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "vbackend.log")

	log, closer, err := New(Config{Level: LevelDebug, Format: FormatText, Output: &buf, File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ForWorkspace(log, "ws1").Debug("snapshot saved", "name", "clean")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(buf.String(), "workspace=ws1") {
		t.Errorf("text output missing workspace attr: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"workspace":"ws1"`) || !strings.Contains(string(data), `"name":"clean"`) {
		t.Errorf("json log file missing attrs: %q", data)
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Config{Level: LevelWarn, Format: FormatJSON, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("dropped")
	ForComponent(log, "tracker").Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, `"component":"tracker"`) {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestNop(t *testing.T) {
	if Nop().Enabled(context.Background(), LevelError) {
		t.Error("Nop logger should be disabled at every level")
	}
}
