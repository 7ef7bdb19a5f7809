package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestPionLoggerFactory(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	l := NewPionLoggerFactory(&logger).NewLogger("ice")
	l.Debug("hidden")
	l.Warnf("candidate %d failed", 3)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("could not decode log line %q: %v", buf.String(), err)
	}
	if entry["scope"] != "ice" {
		t.Fatalf("scope is incorrect, got %v want %s", entry["scope"], "ice")
	}
	if entry["level"] != "warn" {
		t.Fatalf("level is incorrect, got %v want %s", entry["level"], "warn")
	}
	if entry["message"] != "candidate 3 failed" {
		t.Fatalf("message is incorrect, got %v want %s", entry["message"], "candidate 3 failed")
	}
}
