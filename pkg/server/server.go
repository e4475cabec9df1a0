package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"mercator-hq/llmtap/pkg/clock"
	"mercator-hq/llmtap/pkg/config"
	"mercator-hq/llmtap/pkg/proxy"
	"mercator-hq/llmtap/pkg/storage"
	"mercator-hq/llmtap/pkg/storage/retention"
	"mercator-hq/llmtap/pkg/telemetry/health"
	"mercator-hq/llmtap/pkg/telemetry/metrics"
)

// BuildInfo is reported by the version endpoint.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Options carries the process-level dependencies of a Server.
type Options struct {
	Logger *slog.Logger
	// Registry receives the proxy metrics. Nil creates a fresh registry.
	Registry *prometheus.Registry
	Clock    clock.Clock
	Build    BuildInfo
}

// Server is the llmtap HTTP server: the forwarder on every path outside
// the admin prefix, and the admin endpoints under it.
type Server struct {
	config    *config.Config
	logger    *slog.Logger
	clock     clock.Clock
	build     BuildInfo
	upstream  *proxy.Upstream
	forwarder *proxy.Forwarder
	collector *metrics.Collector
	checker   *health.Checker

	// Capture components, nil when capture is disabled.
	store     *storage.FileStore
	index     *storage.Index
	persister *storage.Persister
	pruner    *retention.Pruner
	scheduler *retention.Scheduler

	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
	closeOnce  sync.Once
	closeErr   error
}

// New builds every component named by cfg. The returned Server owns the
// capture index and the persister; release them with Close, or let Serve
// do it on return.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: nil config")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		config:    cfg,
		logger:    opts.Logger.With("component", "server"),
		clock:     opts.Clock,
		build:     opts.Build,
		collector: metrics.NewCollector(&cfg.Telemetry.Metrics, opts.Registry),
		checker:   health.New(cfg.Upstream.DialTimeout),
	}

	upstream, err := proxy.NewUpstream(proxy.UpstreamConfig{
		BaseURL:               cfg.Upstream.BaseURL,
		DialTimeout:           cfg.Upstream.DialTimeout,
		ResponseHeaderTimeout: cfg.Upstream.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.Upstream.IdleConnTimeout,
		MaxIdleConns:          cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConnsPerHost,
	}, opts.Logger)
	if err != nil {
		return nil, err
	}
	s.upstream = upstream
	s.checker.Register("upstream", upstream.Ping)

	fcfg := proxy.ForwarderConfig{
		Upstream:       upstream,
		Inspector:      proxy.NewFrameLogger(opts.Logger),
		Metrics:        s.collector,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
		MaxFrameBuffer: cfg.Decoder.MaxBufferBytes,
	}
	if cfg.Capture.Enabled {
		if err := s.openCapture(); err != nil {
			return nil, err
		}
		fcfg.Sink = s.persister
	}
	s.forwarder = proxy.NewForwarder(fcfg)
	s.handler = s.routes()
	return s, nil
}

func (s *Server) openCapture() error {
	c := s.config.Capture
	store, err := storage.NewFileStore(c.Directory, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open capture directory: %w", err)
	}
	index, err := storage.OpenIndex(c.ResolvedIndexPath(), s.logger)
	if err != nil {
		return fmt.Errorf("failed to open capture index: %w", err)
	}
	persister, err := storage.NewPersister(storage.PersisterConfig{
		Store:     store,
		Index:     index,
		RawDumps:  c.RawDumps,
		QueueSize: c.QueueSize,
		Metrics:   s.collector,
		Logger:    s.logger,
	})
	if err != nil {
		_ = index.Close()
		return err
	}
	s.store, s.index, s.persister = store, index, persister
	s.checker.Register("capture_index", index.Ping)

	if c.Retention.Enabled() {
		s.pruner = retention.NewPruner(index, store, retention.Config{
			Days:        c.Retention.Days,
			MaxCaptures: c.Retention.MaxCaptures,
			Schedule:    c.Retention.Schedule,
		},
			retention.WithClock(s.clock),
			retention.WithMetrics(s.collector),
			retention.WithLogger(s.logger),
		)
		s.scheduler = retention.NewScheduler(s.pruner)
	}
	return nil
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Collector returns the metrics collector.
func (s *Server) Collector() *metrics.Collector {
	return s.collector
}

// Index returns the capture index, or nil when capture is disabled.
func (s *Server) Index() *storage.Index {
	return s.index
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.config.Server.ListenAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully within the configured shutdown timeout. The retention
// scheduler runs alongside. Serve closes the Server before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	sc := s.config.Server
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting proxy server",
			"address", ln.Addr().String(),
			"upstream", s.config.Upstream.BaseURL,
			"capture", s.config.Capture.Enabled,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("initiating graceful shutdown", "timeout", sc.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			_ = srv.Close()
		}
		return nil
	})

	if s.scheduler != nil {
		g.Go(func() error {
			return s.scheduler.Run(gctx)
		})
	}

	err := g.Wait()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("proxy server stopped")
	return err
}

// Close drains the persister and closes the capture index. It is safe to
// call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
		if s.persister != nil {
			errs = append(errs, s.persister.Close())
		}
		if s.index != nil {
			errs = append(errs, s.index.Close())
		}
		s.upstream.CloseIdleConnections()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
