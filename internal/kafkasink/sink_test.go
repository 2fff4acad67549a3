package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"pkt.systems/expertsurvey/schema"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
	block  chan struct{}
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestSinkWritesEventsInOrder(t *testing.T) {
	w := &fakeWriter{}
	sink := NewWithWriter(w, Config{}, nil)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sink.OnSurveyEvent(schema.SurveyEvent{Type: schema.EventClaimed, Row: 3, Email: "ana@example.org", At: at})
	sink.OnSurveyEvent(schema.SurveyEvent{Type: schema.EventImported, Rows: 10, At: at})
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		t.Fatalf("expected writer closed")
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "row-3" || string(w.msgs[1].Key) != "imported" {
		t.Fatalf("unexpected keys %q %q", w.msgs[0].Key, w.msgs[1].Key)
	}
	var event schema.SurveyEvent
	if err := json.Unmarshal(w.msgs[0].Value, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != schema.EventClaimed || event.Row != 3 || event.Email != "ana@example.org" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestSinkSurvivesWriteFailures(t *testing.T) {
	w := &fakeWriter{fail: true}
	sink := NewWithWriter(w, Config{}, nil)
	sink.OnSurveyEvent(schema.SurveyEvent{Type: schema.EventClaimed, Row: 1})
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(w.msgs) != 0 {
		t.Fatalf("expected no messages")
	}
	sink.OnSurveyEvent(schema.SurveyEvent{Type: schema.EventClaimed, Row: 1})
	if err := sink.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSinkDropsWhenQueueFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	sink := NewWithWriter(w, Config{BufferSize: 1}, nil)
	for i := 1; i <= 10; i++ {
		sink.OnSurveyEvent(schema.SurveyEvent{Type: schema.EventClaimed, Row: schema.Row(i)})
	}
	close(w.block)
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := len(w.msgs); n == 0 || n > 2 {
		t.Fatalf("expected at most 2 delivered messages, got %d", n)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Topic: "survey"}, nil); err == nil {
		t.Fatalf("expected broker error")
	}
	if _, err := New(Config{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Fatalf("expected topic error")
	}
}
