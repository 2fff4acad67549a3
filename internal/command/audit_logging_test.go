package command

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"pkt.systems/pslog"
)

func TestHandleSlashAuditLog(t *testing.T) {
	capture := newLogCapture(t)
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.DebugLevel,
	})
	ctx := pslog.ContextWithLogger(context.Background(), logger)

	h := NewHandler(newSurveyFlow(t, 1), nil, HandlerConfig{})
	if _, err := h.Handle(ctx, "/help"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !hasAuditCommand(capture.Entries(), "slash", "/help") {
		t.Fatalf("expected audit log for slash command, got %v", capture.Lines())
	}
}

func TestHandleAuditLogDisabled(t *testing.T) {
	capture := newLogCapture(t)
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.DebugLevel,
	})
	ctx := pslog.ContextWithLogger(context.Background(), logger)

	h := NewHandler(newSurveyFlow(t, 1), nil, HandlerConfig{DisableAuditLogging: true})
	if _, err := h.Handle(ctx, "/help"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if hasAuditCommand(capture.Entries(), "slash", "/help") {
		t.Fatalf("expected no audit log when disabled")
	}
}

type logEntry struct {
	Level   string
	Message string
	Fields  map[string]any
	Raw     string
}

type logCapture struct {
	t     *testing.T
	mu    sync.Mutex
	buf   bytes.Buffer
	lines []string
}

func newLogCapture(t *testing.T) *logCapture {
	t.Helper()
	return &logCapture{t: t}
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.buf.Write(p)
	for {
		data := c.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		c.lines = append(c.lines, string(data[:idx]))
		c.buf.Next(idx + 1)
	}
	return len(p), nil
}

func (c *logCapture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *logCapture) Entries() []logEntry {
	lines := c.Lines()
	entries := make([]logEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, parseLogEntry(line))
	}
	return entries
}

func parseLogEntry(line string) logEntry {
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return logEntry{Raw: line}
	}
	level, _ := payload["level"].(string)
	if level == "" {
		level, _ = payload["lvl"].(string)
	}
	message, _ := payload["message"].(string)
	if message == "" {
		message, _ = payload["msg"].(string)
	}
	return logEntry{Level: level, Message: message, Fields: payload, Raw: line}
}

func hasAuditCommand(entries []logEntry, commandType, command string) bool {
	for _, entry := range entries {
		if entry.Level != "debug" || entry.Message != "audit command" || entry.Fields == nil {
			continue
		}
		if entry.Fields["command_type"] == commandType && entry.Fields["command"] == command {
			return true
		}
	}
	return false
}
