package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithReviewerRowAddsFields(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	log := WithReviewerRow(ctx, "ana@example.org", 3)
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["reviewer"] != "ana@example.org" {
		t.Fatalf("expected reviewer field, got %+v", entry)
	}
	if entry["row"] != float64(3) {
		t.Fatalf("expected row field, got %+v", entry)
	}
}

func TestWithReviewerRowSkipsInvalidRow(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	WithReviewerRow(ctx, "ana@example.org", 0).Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["row"]; ok {
		t.Fatalf("did not expect row for row 0, got %+v", entry)
	}
}

func TestWithReviewerDeduplicatesContextMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("reviewer", "ana@example.org")
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	ctx = ContextWithReviewer(ctx, "ana@example.org")
	WithReviewer(ctx, "ana@example.org").Info("hello")

	line := bytes.TrimSpace(capture.buf.Bytes())
	if count := bytes.Count(line, []byte(`"reviewer"`)); count != 1 {
		t.Fatalf("expected reviewer once, got %d in %s", count, line)
	}
}

func TestWithSessionAndRequest(t *testing.T) {
	capture := &logCapture{}
	log := WithRequest(WithSession(newCaptureLogger(capture), "sess1"), "req1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["session"] != "sess1" || entry["request_id"] != "req1" {
		t.Fatalf("expected session and request fields, got %+v", entry)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}

func TestContextWithReviewerLogger(t *testing.T) {
	capture := &logCapture{}
	log := newCaptureLogger(capture).With("reviewer", "ana@example.org")
	ctx := ContextWithReviewerLogger(context.Background(), log, "ana@example.org")
	WithReviewerRow(ctx, "ana@example.org", 2).Info("hello")

	line := bytes.TrimSpace(capture.buf.Bytes())
	if count := bytes.Count(line, []byte(`"reviewer"`)); count != 1 {
		t.Fatalf("expected reviewer once, got %d in %s", count, line)
	}
	entry := capture.firstEntry(t)
	if entry["row"] != float64(2) {
		t.Fatalf("expected row field, got %+v", entry)
	}
}
