package expertsurvey

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/httpapi"
	"pkt.systems/expertsurvey/internal/roster"
	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

// Server composes the survey service and its HTTP API.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Handler serves the API without a listener, for embedding and tests.
	Handler() http.Handler
	Service() core.Service
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
	// ImportFile is a roster CSV loaded on start when the store holds no roster.
	ImportFile          string
	DisableAuditLogging bool
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
	// Closers are released on Stop, after the listener is gone.
	Closers []io.Closer
}

// New constructs a survey server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	serviceDeps := deps.ServiceDeps
	if serviceDeps.Store == nil {
		serviceDeps.Store = core.NewMemoryStore()
	}
	sinks := make([]core.EventSink, 0, 2)
	if !cfg.DisableAuditLogging {
		sinks = append(sinks, logSink{log: serviceDeps.Logger})
	}
	if serviceDeps.EventSink != nil {
		sinks = append(sinks, serviceDeps.EventSink)
	}
	switch len(sinks) {
	case 0:
		serviceDeps.EventSink = nil
	case 1:
		serviceDeps.EventSink = sinks[0]
	default:
		serviceDeps.EventSink = eventFanout{sinks: sinks}
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}
	return &compositeServer{
		cfg:     cfg,
		store:   serviceDeps.Store,
		service: service,
		httpSrv: httpapi.NewServer(cfg.HTTP, service),
		closers: deps.Closers,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	store   core.Store
	service core.Service
	httpSrv *httpapi.Server
	closers []io.Closer
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	done    chan struct{}
	started bool
	closed  bool
}

func (s *compositeServer) Handler() http.Handler {
	return s.httpSrv.Handler()
}

func (s *compositeServer) Service() core.Service {
	return s.service
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.done = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	if err := s.importRoster(s.ctx); err != nil {
		s.cancel()
		close(s.done)
		return err
	}
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"claim_ttl", s.cfg.Service.ClaimTTL.String(),
	)
	handler := s.httpSrv.Handler()
	go func() {
		defer close(s.done)
		if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, handler); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

// importRoster seeds the store from ImportFile when it has no roster yet.
func (s *compositeServer) importRoster(ctx context.Context) error {
	path := strings.TrimSpace(s.cfg.ImportFile)
	if path == "" {
		return nil
	}
	log := s.logger.With("import_file", path)
	_, ok, err := s.store.Load(ctx)
	if err != nil {
		log.Warn("server roster load failed", "err", err)
		return err
	}
	if ok {
		log.Debug("server roster import skipped", "reason", "store has roster")
		return nil
	}
	table, err := roster.ReadFile(path)
	if err != nil {
		log.Warn("server roster import failed", "err", err)
		return err
	}
	resp, err := s.service.Import(ctx, table)
	if err != nil {
		log.Warn("server roster import failed", "err", err)
		return err
	}
	log.Info("server roster import ok", "rows", resp.Rows)
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	done := s.done
	log := s.logger
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !started || alreadyClosed {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if done != nil {
		select {
		case <-ctx.Done():
			log.Warn("server stop timed out", "err", ctx.Err())
			return ctx.Err()
		case <-done:
		}
	}
	var errs []error
	for _, c := range s.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			log.Warn("server close failed", "err", err)
			errs = append(errs, err)
		}
	}
	log.Info("server stopped")
	return errors.Join(errs...)
}
