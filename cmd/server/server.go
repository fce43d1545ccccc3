package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/paularlott/cli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/martinsuchenak/beacond/internal/api"
	"github.com/martinsuchenak/beacond/internal/cache"
	"github.com/martinsuchenak/beacond/internal/config"
	"github.com/martinsuchenak/beacond/internal/log"
	"github.com/martinsuchenak/beacond/internal/mcp"
	"github.com/martinsuchenak/beacond/internal/metrics"
	"github.com/martinsuchenak/beacond/internal/registry"
	"github.com/martinsuchenak/beacond/internal/resolver"
	"github.com/martinsuchenak/beacond/internal/scraper"
	"github.com/martinsuchenak/beacond/internal/storage"
	"github.com/martinsuchenak/beacond/internal/ui"
	"github.com/martinsuchenak/beacond/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// Server holds the wired components of a running beacond
type Server struct {
	cfg       *config.Config
	store     storage.Storage
	pool      *worker.WorkerPool
	scheduler *worker.Scheduler
	mcpServer *mcp.Server
	handler   http.Handler
}

// NewServer wires storage, the metadata pipeline, maintenance tasks and the
// HTTP surface from cfg. Nothing runs until Run or Start is called.
func NewServer(cfg *config.Config) (*Server, error) {
	store, err := storage.NewStorage(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	log.Info("Storage initialized", "backend", cfg.StorageBackend, "path", cfg.DataDir)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	pool := worker.NewWorkerPool(cfg.RefreshWorkers)

	pageScraper := scraper.New(scraper.Options{
		Timeout:      cfg.FetchTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		UserAgent:    cfg.UserAgent,
	})
	metadataCache := cache.New(store, pageScraper, cache.Options{
		StaleAfter: cfg.StaleAfter,
		Metrics:    m,
		Pool:       pool,
	})
	deviceRegistry := registry.New(store, m)

	scan := resolver.New(deviceRegistry, metadataCache, resolver.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		Metrics:        m,
		Route:          "resolve-scan",
	})
	located := resolver.New(deviceRegistry, metadataCache, resolver.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		Metrics:        m,
		Route:          "resolve-location",
		Locations:      store,
	})

	scheduler := worker.NewScheduler()
	if err := scheduler.RegisterPrune(cfg.PruneSchedule, &pruneCounter{store: store, metrics: m}, cfg.LocationRetention); err != nil {
		store.Close()
		return nil, err
	}
	if err := scheduler.RegisterRefresh(cfg.RefreshSchedule, metadataCache, 0); err != nil {
		store.Close()
		return nil, err
	}

	mcpServer := mcp.NewServer(deviceRegistry, metadataCache, pageScraper, cfg.MCPAuthToken)

	mux := http.NewServeMux()
	api.NewHandler(deviceRegistry, metadataCache, scan, located, store).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/mcp", mcpServer.GetHTTPHandler())
	assets := ui.AssetHandler()
	mux.Handle("GET /index.html", assets)
	mux.Handle("GET /assets/", assets)

	var handler http.Handler = mux
	if cfg.IsAPIAuthEnabled() {
		handler = api.AuthMiddleware(cfg.APIAuthToken, handler)
	}
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.LoggingMiddleware(handler)

	return &Server{
		cfg:       cfg,
		store:     store,
		pool:      pool,
		scheduler: scheduler,
		mcpServer: mcpServer,
		handler:   handler,
	}, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the background workers and scheduled tasks
func (s *Server) Start() {
	s.pool.Start()
	s.scheduler.Start()
}

// Close stops background work and closes storage
func (s *Server) Close() error {
	s.scheduler.Stop()
	s.pool.Stop()
	return s.store.Close()
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.Start()
	defer func() {
		if err := s.Close(); err != nil {
			log.Error("Failed to close storage", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Starting beacond server", "addr", s.cfg.ListenAddr)
	log.Info("API available", "url", "http://localhost"+s.cfg.ListenAddr+"/api/")
	log.Info("MCP available", "url", "http://localhost"+s.cfg.ListenAddr+"/mcp")
	if s.cfg.IsAPIAuthEnabled() {
		log.Info("API authentication enabled")
	}
	s.mcpServer.LogStartup()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Graceful shutdown failed", "error", err)
			httpServer.Close()
		}
	}

	log.Info("Server stopped")
	return nil
}

// pruneCounter records pruned samples in the metrics
type pruneCounter struct {
	store   storage.LocationStore
	metrics *metrics.Metrics
}

func (p *pruneCounter) PruneLocationSamples(before time.Time) (int64, error) {
	n, err := p.store.PruneLocationSamples(before)
	if err == nil {
		p.metrics.LocationsPruned.Add(float64(n))
	}
	return n, err
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the beacond server",
		Description: "Start the HTTP server that resolves beacon sightings, with the landing page, JSON API, metrics and MCP endpoints",
		Flags:       config.GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}

			log.Info("Configuration loaded",
				"data_dir", cfg.DataDir,
				"listen_addr", cfg.ListenAddr,
				"stale_after", cfg.StaleAfter,
				"fetch_timeout", cfg.FetchTimeout,
			)

			srv, err := NewServer(cfg)
			if err != nil {
				log.Error("Failed to initialize server", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
}
