// Package kafkasink publishes survey events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects brokers and topic.
type Config struct {
	Brokers      []string
	Topic        string
	BufferSize   int
	WriteTimeout time.Duration
}

// Sink queues events and writes them from a single goroutine so the
// survey service never blocks on the broker.
type Sink struct {
	w       Writer
	log     pslog.Logger
	timeout time.Duration
	queue   chan schema.SurveyEvent
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// New builds a sink on a kafka-go writer. The writer connects on first write.
func New(cfg Config, log pslog.Logger) (*Sink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	})
	if log != nil {
		log = log.With("topic", cfg.Topic)
	}
	return NewWithWriter(w, cfg, log), nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w Writer, cfg Config, log pslog.Logger) *Sink {
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Sink{
		w:       w,
		log:     log,
		timeout: timeout,
		queue:   make(chan schema.SurveyEvent, size),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// OnSurveyEvent enqueues the event. It drops the event when the queue is full.
func (s *Sink) OnSurveyEvent(event schema.SurveyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.log.Warn("kafka event dropped", "type", string(event.Type), "row", int(event.Row), "reason", "queue full")
	}
}

// Close drains queued events and closes the writer.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return s.w.Close()
}

func (s *Sink) run() {
	defer close(s.done)
	for event := range s.queue {
		msg, err := encode(event)
		if err != nil {
			s.log.Warn("kafka event encode failed", "err", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = s.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			s.log.Warn("kafka event write failed", "type", string(event.Type), "row", int(event.Row), "err", err)
			continue
		}
		s.log.Trace("kafka event write ok", "type", string(event.Type), "row", int(event.Row))
	}
}

func encode(event schema.SurveyEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	key := string(event.Type)
	if event.Row.Valid() {
		key = "row-" + event.Row.String()
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.At,
	}, nil
}
