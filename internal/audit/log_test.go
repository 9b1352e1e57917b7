package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"arbor.reports/internal/obs"
)

func TestLogSinkRecord(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := WithRequestID(context.Background(), "req-123")

	sink := NewLogSink()
	err := sink.Record(ctx, Event{
		Actor:      "actor-42",
		Action:     "invitation.issued",
		EntityType: "profile",
		EntityID:   "prof-1",
		NewStatus:  "pending_activation",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	ev, ok := entry["event"].(map[string]any)
	if !ok {
		t.Fatalf("event missing: %v", entry)
	}
	if ev["action"] != "invitation.issued" {
		t.Fatalf("unexpected action: %v", ev["action"])
	}
	if ev["id"] == "" {
		t.Fatal("expected generated event id")
	}
	if ev["actor"] != "actor-42" {
		t.Fatalf("unexpected actor: %v", ev["actor"])
	}
}
