// Package app assembles the reviewer from configuration and runs its listeners.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/agentic-reviewer/internal/agents"
	"github.com/miradorstack/agentic-reviewer/internal/api"
	"github.com/miradorstack/agentic-reviewer/internal/cache"
	"github.com/miradorstack/agentic-reviewer/internal/config"
	"github.com/miradorstack/agentic-reviewer/internal/engine"
	"github.com/miradorstack/agentic-reviewer/internal/insights"
	"github.com/miradorstack/agentic-reviewer/internal/llm"
	"github.com/miradorstack/agentic-reviewer/internal/metrics"
	"github.com/miradorstack/agentic-reviewer/internal/services"
	"github.com/miradorstack/agentic-reviewer/internal/store"
	"github.com/miradorstack/agentic-reviewer/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// App owns every long-lived component of a reviewer process.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	Completer    llm.Completer
	Orchestrator *engine.Orchestrator
	Service      *services.ReviewService
	// Cache is nil when caching is disabled.
	Cache *cache.ResponseCache
	// Store is nil when history is disabled.
	Store *store.ResultStore

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	telemetry  *telemetry.Providers
	closers    []func() error
}

type buildOptions struct {
	completer  llm.Completer
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// Option customises New.
type Option func(*buildOptions)

// WithCompleter replaces the configured LLM backend.
func WithCompleter(c llm.Completer) Option {
	return func(o *buildOptions) { o.completer = c }
}

// WithRegistry registers metrics on reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// New wires the reviewer. Optional tiers that fail to come up (the remote
// cache) are logged and skipped; required ones return an error.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bo := buildOptions{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&bo)
	}

	a := &App{cfg: cfg, logger: logger, registerer: bo.registerer, gatherer: bo.gatherer}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	if err := metrics.Register(a.registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	tp, err := telemetry.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	a.telemetry = tp

	completer := bo.completer
	if completer == nil {
		completer, err = llm.New(ctx, llm.Config{
			Provider:          cfg.LLM.Provider,
			BaseURL:           cfg.LLM.BaseURL,
			APIKey:            cfg.LLM.APIKey,
			Model:             cfg.LLM.Model,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
		if err != nil {
			return nil, fmt.Errorf("build llm backend: %w", err)
		}
		if c, ok := completer.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	a.Completer = completer

	catalog, err := agents.LoadLabelCatalog(cfg.Agents.LabelsPath, logger)
	if err != nil {
		return nil, err
	}
	gateway := agents.NewGateway(logger, completer, catalog, agents.GatewayOptions{
		CallTimeout: cfg.Agents.CallTimeout,
		Settings:    agents.Settings{Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens},
	})

	var results engine.ResultCache
	var admin services.CacheAdmin
	if cfg.Cache.Enabled {
		rc, err := a.buildCache()
		if err != nil {
			return nil, err
		}
		a.Cache = rc
		results = rc
		admin = rc
		if err := metrics.RegisterCacheStats(a.registerer, rc.Stats); err != nil {
			return nil, fmt.Errorf("register cache metrics: %w", err)
		}
	}

	var history services.HistoryRepo
	var summaries insights.Store
	if cfg.Store.Enabled {
		rs, err := store.NewResultStore(cfg.Store.Path, logger)
		if err != nil {
			return nil, err
		}
		a.Store = rs
		a.closers = append(a.closers, rs.Close)
		history = rs
		summaries = rs
	}

	controller := engine.NewController(logger, engine.ControllerConfig{
		MaxConcurrent: cfg.Performance.MaxConcurrentRequests,
		BatchSize:     cfg.Performance.BatchSize,
	})
	a.Orchestrator = engine.NewOrchestrator(logger, gateway, results, controller, engine.Options{
		MaxRetries:     cfg.Performance.MaxRetries,
		InitialBackoff: cfg.Performance.InitialBackoff,
		MaxBackoff:     cfg.Performance.MaxBackoff,
		CacheTTL:       cfg.Cache.TTL,
		PassTimeout:    cfg.Performance.PassTimeout,
	})

	mode, err := cfg.Agents.Mode()
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Selection.DefaultStrategy()
	if err != nil {
		return nil, err
	}
	info := completer.Info()
	a.Service = services.NewReviewService(logger, a.Orchestrator, history, admin, insights.NewMiner(logger, summaries), services.Options{
		DefaultMode:     mode,
		DefaultStrategy: strategy,
		MaxBatchSamples: cfg.Server.MaxBatchSamples,
		Provider:        info.Provider,
		Model:           info.Model,
	})

	logger.Info("reviewer assembled",
		slog.String("provider", info.Provider),
		slog.String("model", info.Model),
		slog.String("mode", string(mode)),
		slog.Bool("cache", cfg.Cache.Enabled),
		slog.Bool("history", cfg.Store.Enabled),
	)
	ok = true
	return a, nil
}

func (a *App) buildCache() (*cache.ResponseCache, error) {
	rcfg := a.cfg.Cache
	cc := cache.ResponseConfig{
		DefaultTTL:    rcfg.TTL,
		MaxEntries:    rcfg.MaxEntries,
		MaxBytes:      rcfg.MaxBytes,
		RemoteTimeout: rcfg.Remote.Timeout,
		Logger:        a.logger,
	}
	if rcfg.Remote.Enabled {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         rcfg.Remote.Addr,
			Username:     rcfg.Remote.Username,
			Password:     rcfg.Remote.Password,
			DB:           rcfg.Remote.DB,
			DialTimeout:  rcfg.Remote.DialTimeout,
			ReadTimeout:  rcfg.Remote.ReadTimeout,
			WriteTimeout: rcfg.Remote.WriteTimeout,
			MaxRetries:   rcfg.Remote.MaxRetries,
			TLS:          rcfg.Remote.TLS,
			KeyPrefix:    rcfg.Remote.KeyPrefix,
		})
		if err != nil {
			a.logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cc.Remote = provider
			a.closers = append(a.closers, provider.Close)
		}
	}
	rc, err := cache.NewResponseCache(cc)
	if err != nil {
		return nil, fmt.Errorf("build response cache: %w", err)
	}
	return rc, nil
}

// Serve runs the gRPC, HTTP and metrics listeners until ctx ends or one of
// them fails, then shuts all of them down within the graceful timeout.
// Empty addresses disable the matching listener.
func (a *App) Serve(ctx context.Context) error {
	server := a.cfg.Server

	var (
		grpcServer *api.Server
		httpSrvs   []*http.Server
		listeners  []net.Listener
	)
	abort := func(err error) error {
		for _, lis := range listeners {
			_ = lis.Close()
		}
		if grpcServer != nil {
			grpcServer.Shutdown(ctx)
		}
		return err
	}

	if server.Address != "" {
		var err error
		grpcServer, err = api.NewServer(server, api.NewGRPCService(a.Service, a.logger))
		if err != nil {
			return err
		}
	}
	if server.HTTPAddress != "" {
		lis, err := net.Listen("tcp", server.HTTPAddress)
		if err != nil {
			return abort(fmt.Errorf("listen http on %s: %w", server.HTTPAddress, err))
		}
		listeners = append(listeners, lis)
		httpSrvs = append(httpSrvs, &http.Server{
			Handler: api.NewHTTPHandler(a.Service, a.logger, api.HTTPOptions{ServiceName: a.cfg.Tracing.ServiceName}),
			// No write timeout: batch passes can outlast any fixed bound.
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	if server.MetricsAddress != "" {
		lis, err := net.Listen("tcp", server.MetricsAddress)
		if err != nil {
			return abort(fmt.Errorf("listen metrics on %s: %w", server.MetricsAddress, err))
		}
		listeners = append(listeners, lis)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
		httpSrvs = append(httpSrvs, &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	if grpcServer != nil {
		g.Go(func() error {
			a.logger.Info("gRPC server listening", slog.String("address", grpcServer.Address()))
			if err := grpcServer.Start(); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}
	for i, srv := range httpSrvs {
		lis := listeners[i]
		g.Go(func() error {
			a.logger.Info("http server listening", slog.String("address", lis.Addr().String()))
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server on %s: %w", lis.Addr(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down listeners")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout)
		defer cancel()
		if grpcServer != nil {
			grpcServer.Shutdown(shutdownCtx)
		}
		for _, srv := range httpSrvs {
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("http server shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	return g.Wait()
}

// Close releases the store, the remote cache and the tracer provider.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, telemetryShutdownTimeout)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		a.telemetry = nil
	}
	return errors.Join(errs...)
}
