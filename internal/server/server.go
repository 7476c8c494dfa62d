package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kvscope/kvscope/internal/audit"
	"github.com/kvscope/kvscope/internal/browser"
	"github.com/kvscope/kvscope/internal/client"
	"github.com/kvscope/kvscope/internal/config"
	"github.com/kvscope/kvscope/internal/export"
	"github.com/kvscope/kvscope/internal/metrics"
	"github.com/kvscope/kvscope/internal/middleware"
	"github.com/kvscope/kvscope/pkg/compression"
	"github.com/sirupsen/logrus"
)

const maintenanceInterval = 15 * time.Second

// KeyStore is the remote key store as seen by the dashboard
type KeyStore interface {
	browser.Scanner
	browser.TypeResolver
	GetValue(ctx context.Context, key string) (*browser.KeyValue, error)
	SetValue(ctx context.Context, key, valueType string, value json.RawMessage, ttlSeconds int64) error
	DeleteKey(ctx context.Context, key string) error
	ExpireKey(ctx context.Context, key string, seconds int64) error
}

// Dependencies are the collaborators of the dashboard server. Audit and
// Exporter are optional.
type Dependencies struct {
	Store    KeyStore
	Metrics  metrics.Manager
	Audit    *audit.Manager
	Exporter *export.Exporter
	Logger   *logrus.Logger
}

// Server is the kvscope dashboard: one browsing session over a key store,
// served as a JSON console API
type Server struct {
	config         *config.Config
	httpServer     *http.Server
	store          KeyStore
	navigator      *browser.Navigator
	editCache      *browser.EditCache
	auditManager   *audit.Manager
	exporter       *export.Exporter
	metricsManager metrics.Manager
	logger         *logrus.Logger
	startTime      time.Time
}

// New creates the dashboard server and the clients it depends on
func New(cfg *config.Config) (*Server, error) {
	logger := logrus.StandardLogger()

	storeClient := client.New(cfg.Store.URL, client.Options{
		Timeout: cfg.Client.Timeout,
		Logger:  logger,
	})

	deps := Dependencies{
		Store:   storeClient,
		Metrics: metrics.NewManager(cfg.Metrics),
		Logger:  logger,
	}

	if cfg.Audit.Enable {
		auditStore, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit store: %w", err)
		}
		deps.Audit = audit.NewManager(auditStore, logger)
	}

	if cfg.Export.Enable {
		compressor, err := compression.New(compression.Config{
			Algorithm: cfg.Export.Compression,
			Level:     cfg.Export.CompressionLevel,
			MinSize:   1024,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create export compressor: %w", err)
		}
		uploader := export.NewS3Uploader(cfg.Export)
		deps.Exporter = export.NewExporter(uploader, cfg.Export.Bucket, cfg.Export.Prefix, logger,
			export.WithCompressor(compressor))
	}

	return NewWithDependencies(cfg, deps), nil
}

// NewWithDependencies creates the dashboard server around existing collaborators
func NewWithDependencies(cfg *config.Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewManager(config.MetricsConfig{Enable: false})
	}

	meta := browser.NewMetadataCache(deps.Store, browser.MetadataCacheOptions{
		TTL:           cfg.Browser.MetadataTTL,
		LookupTimeout: cfg.Browser.LookupTimeout,
		BatchSize:     cfg.Browser.BatchSize,
		BatchDelay:    cfg.Browser.BatchDelay,
		Metrics:       deps.Metrics,
		Logger:        deps.Logger,
	})
	navigator := browser.NewNavigator(deps.Store, meta, browser.NavigatorOptions{
		PageSize:    cfg.Browser.PageSize,
		LoadTimeout: cfg.Browser.LoadTimeout,
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
	})

	s := &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Listen,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		store:          deps.Store,
		navigator:      navigator,
		editCache:      browser.NewEditCache(cfg.Browser.EditTTL, deps.Metrics, nil),
		auditManager:   deps.Audit,
		exporter:       deps.Exporter,
		metricsManager: deps.Metrics,
		logger:         deps.Logger,
		startTime:      time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Navigator returns the browsing session
func (s *Server) Navigator() *browser.Navigator {
	return s.navigator
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address":   s.config.Listen,
		"store_url": s.config.Store.URL,
		"page_size": s.config.Browser.PageSize,
	}).Info("Starting kvscope dashboard")

	if err := s.metricsManager.Start(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to start metrics manager")
	}

	go s.runMaintenance(ctx)

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
		s.logger.WithError(serveErr).Error("Dashboard server error")
	}

	s.shutdown()
	return serveErr
}

func (s *Server) shutdown() {
	s.logger.Info("Shutting down dashboard")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown dashboard server")
	}

	if err := s.metricsManager.Stop(); err != nil {
		s.logger.WithError(err).Debug("Metrics manager stop")
	}

	if s.auditManager != nil {
		if err := s.auditManager.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close audit log")
		}
	}
}

// runMaintenance publishes cache sizes and purges old audit logs
func (s *Server) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	lastPurge := time.Time{}
	for {
		s.updateCacheSizes()

		if s.auditManager != nil && time.Since(lastPurge) >= 24*time.Hour {
			if _, err := s.auditManager.PurgeOldLogs(ctx, s.config.Audit.RetentionDays); err != nil {
				s.logger.WithError(err).Warn("Failed to purge audit logs")
			}
			lastPurge = time.Now()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) updateCacheSizes() {
	s.metricsManager.UpdateCacheSize("metadata", s.navigator.Metadata().Len())
	s.metricsManager.UpdateCacheSize("edit", s.editCache.Len())
	s.metricsManager.UpdateCacheSize("pages", s.navigator.Pages().Len())
}

func (s *Server) setupRoutes() {
	router := mux.NewRouter()

	router.Use(middleware.Logging(s.logger, "/health", s.config.Metrics.Path))
	router.Use(s.metricsManager.Middleware())

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.metricsManager.GetMetricsHandler()).Methods("GET")
	}

	s.setupConsoleRoutes(router.PathPrefix("/api/v1").Subrouter())

	// CORS wraps the router so preflight requests never reach method matching
	s.httpServer.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(true),
	)(middleware.CORS()(router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":  "healthy",
		"service": "kvscope",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}
