package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"Warning", WARN, false},
		{"error", ERROR, false},
		{"bogus", INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{Level: WARN, Output: &buf})

	logger.Debug("debug message", nil)
	logger.Info("info message", nil)
	logger.Warn("warn message", nil)
	logger.Error("error message", nil)

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Error("messages below WARN should be filtered")
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Error("WARN and ERROR messages should be emitted")
	}
}

func TestLoggerTextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{Level: DEBUG, Output: &buf})

	logger.Info("eviction", map[string]interface{}{"key": "sample.wav", "freed": 1024})

	out := buf.String()
	if !strings.Contains(out, "key=sample.wav") {
		t.Errorf("expected key field in output, got %q", out)
	}
	if !strings.Contains(out, "freed=1024") {
		t.Errorf("expected freed field in output, got %q", out)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  DEBUG,
		Output: &buf,
		Format: FormatJSON,
	})

	logger.Info("cache hit", map[string]interface{}{"key": "loop.mid"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level INFO, got %v", entry["level"])
	}
	if entry["message"] != "cache hit" {
		t.Errorf("expected message 'cache hit', got %v", entry["message"])
	}
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	base := NewStructuredLogger(&StructuredLoggerConfig{Level: DEBUG, Output: &buf})
	child := base.WithField("component", "prefetch")

	child.Info("scheduled", nil)

	if !strings.Contains(buf.String(), "component=prefetch") {
		t.Errorf("expected inherited context field, got %q", buf.String())
	}

	// Parent must not inherit the child's field.
	buf.Reset()
	base.Info("plain", nil)
	if strings.Contains(buf.String(), "component=prefetch") {
		t.Error("parent logger should not carry child fields")
	}
}
