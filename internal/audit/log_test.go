package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gamelink.org/internal/auth"
	"gamelink.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	orig := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(orig) })
	return &buf
}

func TestLogEventIncludesContext(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithCaller(ctx, "caller-9", nil)

	LogEvent(ctx, "link.started", map[string]any{"game_name": "Steve"})

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("audit entry is not valid JSON: %v", err)
	}
	if entry["event"] != "link.started" || entry["type"] != "audit" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("request id missing: %v", entry)
	}
	if entry["caller_id"] != "caller-9" {
		t.Fatalf("caller id missing: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["game_name"] != "Steve" {
		t.Fatalf("fields not preserved: %v", entry["fields"])
	}
}

func TestLogEventSkipsEmptyEvent(t *testing.T) {
	buf := captureLog(t)
	LogEvent(context.Background(), "   ", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}
