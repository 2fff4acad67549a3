package expertsurvey

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/httpapi"
	"pkt.systems/expertsurvey/schema"
)

type trackingCloser struct {
	closed int
	err    error
}

func (c *trackingCloser) Close() error {
	c.closed++
	return c.err
}

type recordingSink struct {
	events []schema.SurveyEvent
}

func (r *recordingSink) OnSurveyEvent(event schema.SurveyEvent) {
	r.events = append(r.events, event)
}

func writeRoster(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	if err := os.WriteFile(path, []byte("Age,SEX\n50,F\n61,M\n"), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

func TestServerStartImportsRosterAndStops(t *testing.T) {
	sink := &recordingSink{}
	closer := &trackingCloser{}
	srv, err := New(ServerConfig{
		HTTP:       httpapi.Config{Addr: "127.0.0.1:0", BasePath: "/api"},
		ImportFile: writeRoster(t),
	}, ServerDeps{
		ServiceDeps: core.ServiceDeps{EventSink: sink},
		Closers:     []io.Closer{closer},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}
	patients, err := srv.Service().ListPatients(ctx, "")
	if err != nil || len(patients) != 2 {
		t.Fatalf("expected 2 imported rows, got %d (%v)", len(patients), err)
	}
	if len(sink.events) != 1 || sink.events[0].Type != schema.EventImported || sink.events[0].Rows != 2 {
		t.Fatalf("expected import event, got %+v", sink.events)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- srv.Wait() }()
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait did not return after Stop")
	}
	if closer.closed != 1 {
		t.Fatalf("expected closers to run once, got %d", closer.closed)
	}
	if err := srv.Stop(stopCtx); err != nil || closer.closed != 1 {
		t.Fatalf("expected second stop to be a no-op, got %v (%d)", err, closer.closed)
	}
}

func TestServerSkipsImportWhenStoreHasRoster(t *testing.T) {
	store := core.NewMemoryStore()
	if err := store.Replace(context.Background(), schema.Roster{Columns: []string{"Age"}, Rows: []map[string]string{{"Age": "1"}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	srv, err := New(ServerConfig{
		HTTP:       httpapi.Config{Addr: "127.0.0.1:0"},
		ImportFile: writeRoster(t),
	}, ServerDeps{ServiceDeps: core.ServiceDeps{Store: store}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()
	patients, err := srv.Service().ListPatients(context.Background(), "")
	if err != nil || len(patients) != 1 {
		t.Fatalf("expected existing roster to be kept, got %d (%v)", len(patients), err)
	}
}

func TestServerStartFailsOnMissingImport(t *testing.T) {
	srv, err := New(ServerConfig{
		HTTP:       httpapi.Config{Addr: "127.0.0.1:0"},
		ImportFile: filepath.Join(t.TempDir(), "missing.csv"),
	}, ServerDeps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail on missing roster file")
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after failed start: %v", err)
	}
}

func TestServerHandlerServesAPI(t *testing.T) {
	srv, err := New(ServerConfig{HTTP: httpapi.Config{BasePath: "/api"}}, ServerDeps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNewRejectsNegativeClaimTTL(t *testing.T) {
	_, err := New(ServerConfig{Service: schema.ServiceConfig{ClaimTTL: -time.Second}}, ServerDeps{})
	if !errors.Is(err, schema.ErrInvalidClaimTTL) {
		t.Fatalf("expected ErrInvalidClaimTTL, got %v", err)
	}
}

func TestEventFanoutSkipsNil(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	fanout := eventFanout{sinks: []core.EventSink{a, nil, b}}
	fanout.OnSurveyEvent(schema.SurveyEvent{Type: schema.EventClaimed, Row: 1})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event")
	}
	logSink{}.OnSurveyEvent(schema.SurveyEvent{Type: schema.EventImported, Rows: 3})
}
