package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kvscope/kvscope/internal/api"
	"github.com/kvscope/kvscope/internal/config"
	"github.com/kvscope/kvscope/internal/kvstore"
	"github.com/kvscope/kvscope/internal/lifecycle"
	"github.com/kvscope/kvscope/internal/metrics"
	"github.com/kvscope/kvscope/internal/middleware"
	"github.com/sirupsen/logrus"
)

// StoreServer serves a local key store over the /v1 REST API
type StoreServer struct {
	config         *config.Config
	httpServer     *http.Server
	store          *kvstore.Store
	limiter        *middleware.RateLimiter
	expiryWorker   *lifecycle.Worker
	metricsManager metrics.Manager
	logger         *logrus.Logger
}

// NewStoreServer opens the configured engine and seeds it when asked to
func NewStoreServer(ctx context.Context, cfg *config.Config) (*StoreServer, error) {
	logger := logrus.StandardLogger()

	engine, err := kvstore.OpenEngine(kvstore.EngineOptions{
		Engine:     cfg.Store.Engine,
		DataDir:    cfg.DataDir,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s engine: %w", cfg.Store.Engine, err)
	}

	store := kvstore.NewStore(engine, kvstore.Options{
		MaxScanCount: cfg.Store.MaxScanCount,
		Logger:       logger,
	})

	if cfg.Store.Seed > 0 {
		if err := store.Seed(ctx, cfg.Store.Seed); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
		logger.WithField("keys", cfg.Store.Seed).Info("Seeded key store")
	}

	return NewStoreServerWithStore(cfg, store, metrics.NewManager(cfg.Metrics), logger), nil
}

// NewStoreServerWithStore serves an already opened store
func NewStoreServerWithStore(cfg *config.Config, store *kvstore.Store, metricsManager metrics.Manager, logger *logrus.Logger) *StoreServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &StoreServer{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Store.Listen,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		store:          store,
		metricsManager: metricsManager,
		logger:         logger,
	}
	if cfg.Store.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Store.RateLimit,
			BurstSize:         cfg.Store.RateBurst,
			SkipPaths:         []string{"/health", cfg.Metrics.Path},
		})
	}
	if cfg.Store.SweepInterval > 0 {
		s.expiryWorker = lifecycle.NewWorker(store, metricsManager, logger)
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *StoreServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *StoreServer) setupRoutes() {
	router := mux.NewRouter()

	router.Use(middleware.Logging(s.logger, "/health", s.config.Metrics.Path))
	if s.limiter != nil {
		router.Use(s.limiter.Middleware())
	}
	router.Use(s.metricsManager.Middleware())

	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.metricsManager.GetMetricsHandler()).Methods("GET")
	}

	api.NewHandler(s.store, s.metricsManager, s.logger).RegisterRoutes(router)

	s.httpServer.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(true),
	)(router)
}

// Start serves until ctx is cancelled, then closes the store
func (s *StoreServer) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address":  s.config.Store.Listen,
		"engine":   s.config.Store.Engine,
		"data_dir": s.config.DataDir,
	}).Info("Starting kvscope store")

	if err := s.metricsManager.Start(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to start metrics manager")
	}
	if s.limiter != nil {
		go s.runLimiterCleanup(ctx)
	}
	if s.expiryWorker != nil {
		s.expiryWorker.Start(ctx, s.config.Store.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	if serveErr != nil {
		s.logger.WithError(serveErr).Error("Store server error")
	}

	s.shutdown()
	return serveErr
}

func (s *StoreServer) runLimiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup()
		}
	}
}

func (s *StoreServer) shutdown() {
	s.logger.Info("Shutting down store")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown store server")
	}
	if s.expiryWorker != nil {
		s.expiryWorker.Stop()
	}
	if err := s.metricsManager.Stop(); err != nil {
		s.logger.WithError(err).Debug("Metrics manager stop")
	}
	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close key store")
	}
}
