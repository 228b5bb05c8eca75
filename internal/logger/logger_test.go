package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(LoggerConfig{Level: "INFO", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	WithFileOperation(l, "a.jpg", "compress").Info("done")
	l.Debug("hidden")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "done" || entry["level"] != "info" {
		t.Errorf("Unexpected entry: %v", entry)
	}
	if entry["file"] != "a.jpg" || entry["operation"] != "compress" {
		t.Errorf("Missing context fields: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("Missing timestamp key")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	l, err := NewLogger(LoggerConfig{Level: "debug", FilePath: path, MaxSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	WithOperation(l, "test").Debug("written")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"written"`)) {
		t.Errorf("Log file missing entry: %s", data)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestWithVerbosity(t *testing.T) {
	base := DefaultConfig()
	tests := []struct {
		verbose, quiet bool
		want           string
	}{
		{false, false, "info"},
		{true, false, "debug"},
		{false, true, "error"},
		{true, true, "error"},
	}
	for _, tt := range tests {
		if got := base.WithVerbosity(tt.verbose, tt.quiet).Level; got != tt.want {
			t.Errorf("WithVerbosity(%v, %v) = %s, want %s", tt.verbose, tt.quiet, got, tt.want)
		}
	}
	if base.FilePath != "photo-shrink.log" {
		t.Errorf("Default file path = %q", base.FilePath)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.GetLevel() != logrus.InfoLevel {
		t.Errorf("Unexpected level %v", l.GetLevel())
	}
	WithFile(l, "x").Error("dropped")
}
