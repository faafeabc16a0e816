package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	prom "github.com/prometheus/client_golang/prometheus"

	"emprofiler/internal/catalog"
	"emprofiler/internal/config"
	"emprofiler/internal/errors"
	"emprofiler/internal/infrastructure"
	customMiddleware "emprofiler/internal/middleware"
	"emprofiler/internal/operations"
	"emprofiler/internal/services"
	"emprofiler/internal/storage/objectstore"
	"emprofiler/internal/storage/runstore"
	handlers "emprofiler/internal/transport/http"
	ws "emprofiler/internal/websocket"
)

var (
	// Version is set at build time with -ldflags "-X emprofiler/internal/app.Version=..."
	Version = config.AppVersion
	// BuildTime is set at build time
	BuildTime = ""
)

// minCleanupInterval keeps the retention sweep from spinning on tiny retention settings
const minCleanupInterval = time.Minute

// Application represents the main application container
type Application struct {
	Config          *config.Config
	Paths           *config.Paths
	Router          *chi.Mux
	Server          *http.Server
	Logger          *slog.Logger
	OTelProviders   *infrastructure.OTelProviders
	Metrics         *infrastructure.PipelineMetrics
	Catalog         *catalog.Catalog
	Broadcaster     *operations.StatusBroadcaster
	WebSocketHub    *ws.Hub
	Runs            runstore.Store
	Archive         objectstore.Store
	AnalysisService *services.AnalysisService
	HealthService   *services.HealthService

	registry  *prom.Registry
	db        *sql.DB
	startTime time.Time

	listener net.Listener
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	stopOnce sync.Once
}

// Option customizes application construction
type Option func(*Application)

// WithLogger uses logger instead of initializing the global logger from config
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) { a.Logger = logger }
}

// WithMetricsRegistry registers Prometheus collectors on registry instead of the default registerer
func WithMetricsRegistry(registry *prom.Registry) Option {
	return func(a *Application) { a.registry = registry }
}

// NewApplication wires every component from cfg. A nil cfg is loaded from
// the environment and the optional config file.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	app := &Application{
		Config:    cfg,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.Logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		app.Logger = logger
	}

	app.Logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", Version))

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(app.Logger)
	app.Paths = paths

	otelConfig := infrastructure.OTelConfigFrom(cfg.Telemetry)
	otelConfig.ServiceVersion = Version
	otelConfig.Registry = app.registry
	providers, err := infrastructure.InitializeOTel(otelConfig, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	app.OTelProviders = providers

	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	app.Metrics = metrics
	if _, err := infrastructure.RegisterSystemMetrics(providers.Meter, app.startTime); err != nil {
		return nil, fmt.Errorf("failed to register system metrics: %w", err)
	}

	if err := app.initializeServices(context.Background()); err != nil {
		if app.Broadcaster != nil {
			app.Broadcaster.Stop()
		}
		app.closeStores()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the catalog, stores, hub and services in dependency order
func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config

	hub := ws.NewHub(a.Logger,
		ws.WithMetrics(a.Metrics),
		ws.WithKeepalive(cfg.WebSocket.PingPeriod, cfg.WebSocket.PongWait),
	)
	broadcaster := operations.NewStatusBroadcaster(hub, a.Logger)
	// New clients get the snapshots of in-flight runs
	hub.SetSnapshotSource(broadcaster)
	a.WebSocketHub = hub
	a.Broadcaster = broadcaster

	executor := operations.NewExecutor(
		catalog.NewExecutorConfig(cfg.Executor),
		operations.WithLogger(a.Logger),
		operations.WithTracer(operations.NewPipelineTracer(a.Metrics)),
		operations.WithBroadcaster(broadcaster),
	)

	cat, err := catalog.Build(catalog.Options{
		CatalogFile: a.Paths.Resolve(cfg.Executor.CatalogFile),
		Executor:    executor,
		Logger:      a.Logger,
		Metrics:     a.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build catalog: %w", err)
	}
	a.Catalog = cat

	if err := a.openStores(ctx); err != nil {
		return err
	}

	serviceOpts := []services.AnalysisOption{
		services.WithServiceLogger(a.Logger),
		services.WithQueue(cfg.Executor.Workers, cfg.Executor.QueueSize),
	}
	if a.Archive != nil {
		serviceOpts = append(serviceOpts, services.WithArchive(a.Archive, cfg.Archive.Prefix))
	}
	analysis := services.NewAnalysisService(cat.Dispatcher, a.Runs, serviceOpts...)
	analysis.Queue().SetMetrics(a.Metrics)
	a.AnalysisService = analysis

	a.HealthService = services.NewHealthService(Version, BuildTime, services.HealthDeps{
		Runs:    a.Runs,
		Queue:   analysis.Queue(),
		Hub:     a.WebSocketHub,
		Targets: func() int { return len(analysis.Targets()) },
	}, a.Logger)

	return nil
}

// openStores selects the run store and the optional report archive
func (a *Application) openStores(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := runstore.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open run database: %w", err)
		}
		a.db = db
		store, err := runstore.NewPostgresStore(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to initialize run store: %w", err)
		}
		a.Runs = store
	default:
		a.Runs = runstore.NewMemoryStore()
	}
	a.Logger.Info("Run store initialized", slog.String("driver", cfg.Storage.Driver))

	if cfg.Archive.Enabled {
		archive, err := objectstore.NewMinioStore(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize report archive: %w", err)
		}
		a.Archive = archive
		a.Logger.Info("Report archive initialized",
			slog.String("endpoint", cfg.Archive.Endpoint),
			slog.String("bucket", cfg.Archive.Bucket))
	}
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	cfg := a.Config
	r := chi.NewRouter()
	errorHandler := errors.NewErrorHandler(a.Logger, cfg.Logging.Development)

	// Middleware that does not wrap the ResponseWriter, safe for websocket upgrades
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	wsHandler := ws.NewHandler(a.WebSocketHub, cfg.WebSocket, cfg.Security.AllowedOrigins, a.Logger)
	r.With(
		customMiddleware.WebSocketTraceMiddleware(a.Logger),
		customMiddleware.APIKeyAuth(a.Logger, cfg.Security.APIKeys),
	).Handle(config.WebSocketEndpoint, wsHandler)

	metricsHandler := handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.AnalysisService.Queue(), a.WebSocketHub)
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Get(config.MetricsEndpoint, metricsHandler.GetMetrics)
	}

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer → headers
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics, a.Logger).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.DefaultSecureHeaders().Handler)
		if cfg.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.corsConfig()))
		}

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Mount(config.HealthEndpoint, healthHandler.Routes())
		r.Get("/version", healthHandler.Version)

		r.Route(config.APIBasePath, func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			if cfg.Security.RateLimit.Enabled {
				r.Use(customMiddleware.NewRateLimiter(
					cfg.Security.RateLimit.RPS,
					cfg.Security.RateLimit.Burst,
					a.Logger,
				).Handler)
			}
			r.Use(customMiddleware.BodyLimit(cfg.Security.MaxBodyBytes))
			r.Use(customMiddleware.APIKeyAuth(a.Logger, cfg.Security.APIKeys))
			r.Use(customMiddleware.AuditLog(a.Logger))
			r.Use(customMiddleware.ContentTypeValidator("application/json"))
			r.Use(customMiddleware.Timeout(cfg.Server.RequestTimeout, a.Logger))

			r.Get("/stats", metricsHandler.GetStats)

			analysisHandler := handlers.NewAnalysisHandler(a.AnalysisService, errorHandler, a.Logger)
			r.Mount("/", analysisHandler.Routes())
		})
	})

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.Router = r
}

func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins:   a.Config.Security.AllowedOrigins,
		AllowCredentials: len(a.Config.Security.APIKeys) > 0,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port)),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the hub, the run workers, the retention sweep and the HTTP
// server. cancel is called if the server stops unexpectedly.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	listener, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = listener

	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", Version),
		slog.String("address", listener.Addr().String()),
		slog.String("storage", a.Config.Storage.Driver),
		slog.Bool("archive", a.Archive != nil),
		slog.Int("targets", len(a.AnalysisService.Targets())))

	a.WebSocketHub.Start()

	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	a.bgCancel = bgCancel
	a.AnalysisService.Start(bgCtx)

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		a.cleanupLoop(bgCtx)
	}()

	go func() {
		if err := a.Server.Serve(listener); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", "http://"+listener.Addr().String()))
	return nil
}

// Addr returns the address the server listens on once started
func (a *Application) Addr() string {
	if a.listener == nil {
		return a.Server.Addr
	}
	return a.listener.Addr().String()
}

// cleanupLoop drops finished snapshots and expired runs
func (a *Application) cleanupLoop(ctx context.Context) {
	interval := a.Config.Executor.SnapshotRetention / 2
	if interval < minCleanupInterval {
		interval = minCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Application) sweep(ctx context.Context) {
	if retention := a.Config.Executor.SnapshotRetention; retention > 0 {
		a.Broadcaster.CleanupOldRuns(ctx, retention)
	}
	if retention := a.Config.Storage.RunRetention; retention > 0 {
		if _, err := a.AnalysisService.CleanupRuns(ctx, retention); err != nil {
			a.Logger.WarnContext(ctx, "run cleanup failed", slog.String("error", err.Error()))
		}
	}
}

// Stop gracefully stops the application. It is safe to call more than once.
func (a *Application) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		stopErr = a.stop(ctx)
	})
	return stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var serverErr error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		serverErr = fmt.Errorf("server shutdown error: %w", err)
	}

	// In-flight runs get the rest of the shutdown budget
	remaining := a.Config.Server.ShutdownTimeout
	if deadline, ok := shutdownCtx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	if err := a.AnalysisService.Stop(remaining); err != nil {
		a.Logger.ErrorContext(ctx, "Failed to stop run queue gracefully", slog.String("error", err.Error()))
	}

	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.bgWG.Wait()

	a.Broadcaster.Stop()
	a.WebSocketHub.Stop()
	a.closeStores()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return serverErr
}

// closeStores closes the run store, which owns the database handle once created
func (a *Application) closeStores() {
	var err error
	switch {
	case a.Runs != nil:
		err = a.Runs.Close()
	case a.db != nil:
		err = a.db.Close()
	}
	if err != nil {
		a.Logger.Warn("Failed to close run store", slog.String("error", err.Error()))
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Server stopped unexpectedly")
	}

	return a.Stop(context.Background())
}
