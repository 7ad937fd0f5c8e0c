package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/filegate/internal/api/http"
	"github.com/GriffinCanCode/filegate/internal/api/middleware"
	"github.com/GriffinCanCode/filegate/internal/infrastructure/config"
	"github.com/GriffinCanCode/filegate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/filegate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filegate/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/filegate/internal/providers/filesystem"
)

const shutdownTimeout = 15 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	gateway *filesystem.Gateway
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("Initializing filegate server",
		zap.String("port", cfg.Server.Port),
		zap.String("root", cfg.Gateway.Root),
		zap.String("archive_format", cfg.Gateway.ArchiveFormat),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	tracer := tracing.New("filegate", logger.Component("tracing"))

	resolver, err := filesystem.NewResolver(cfg.Gateway.Root)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to open gateway root: %w", err)
	}

	format, err := filesystem.ParseArchiveFormat(cfg.Gateway.ArchiveFormat)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("invalid archive format: %w", err)
	}
	opts := filesystem.Options{
		TempDir: cfg.Gateway.TempDir,
		Format:  format,
		Exclude: cfg.Gateway.ArchiveExclude,
	}
	if err := opts.Validate(resolver); err != nil {
		tracer.Close()
		return nil, fmt.Errorf("invalid gateway options: %w", err)
	}
	gateway := filesystem.NewGateway(resolver, logger.Component("gateway"), opts).WithMetrics(metrics)
	logger.Info("Gateway root resolved",
		zap.String("root", gateway.Root()),
		zap.String("temp_dir", gateway.TempDir()),
	)

	router := NewRouter(cfg, gateway, metrics, tracer, logger)

	return &Server{
		router:  router,
		gateway: gateway,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(cfg *config.Config, gateway *filesystem.Gateway, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *logging.Logger) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	httpLogger := logger.Component("http")

	// Add middleware
	router.Use(middleware.Recovery(httpLogger))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.Logger(httpLogger))

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.CORS.Origins) > 0 {
		corsConfig.AllowOrigins = cfg.CORS.Origins
	}
	router.Use(middleware.CORS(corsConfig))

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	// Register routes
	handlers := apihttp.NewHandlers(gateway, metrics, apihttp.UploadLimits{
		MaxBytes:    cfg.Upload.MaxBytes,
		MemoryBytes: cfg.Upload.MemoryBytes,
	}, httpLogger)
	handlers.Register(router)

	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Close flushes the tracer and logger.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.tracer.Close()
	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}
