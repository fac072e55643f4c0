// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/pushgarden/internal/config"
	"github.com/bissquit/pushgarden/internal/longpoll"
	"github.com/bissquit/pushgarden/internal/notifications"
	notificationsmongo "github.com/bissquit/pushgarden/internal/notifications/mongo"
	notificationspostgres "github.com/bissquit/pushgarden/internal/notifications/postgres"
	"github.com/bissquit/pushgarden/internal/pkg/httputil"
	"github.com/bissquit/pushgarden/internal/pkg/metrics"
	mongoconn "github.com/bissquit/pushgarden/internal/pkg/mongo"
	"github.com/bissquit/pushgarden/internal/pkg/postgres"
	"github.com/bissquit/pushgarden/internal/registry"
	"github.com/bissquit/pushgarden/internal/trigger"
	"github.com/bissquit/pushgarden/internal/version"
	"github.com/bissquit/pushgarden/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/time/rate"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	mongoDB       *mongodriver.Database
	registry      *registry.Registry[[]string]
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	app := &App{
		config:   cfg,
		logger:   logger,
		registry: registry.New[[]string](),
	}

	repo, err := app.connectStorage(cfg)
	if err != nil {
		return nil, err
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel

	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	router, err := app.setupRouter(repo)
	if err != nil {
		app.closeStorage()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// connectStorage dials the backend selected by storage.driver and returns
// the repository over it.
func (a *App) connectStorage(cfg *config.Config) (notifications.Repository, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer cancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MinIdleConns:    cfg.Database.MinIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := a.applyMigrations(cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		a.db = db
		return notificationspostgres.NewRepository(db), nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
		defer cancel()

		db, err := mongoconn.Connect(connectCtx, mongoconn.Config{
			URI:             cfg.Mongo.URI,
			Database:        cfg.Mongo.Database,
			ConnectTimeout:  cfg.Mongo.ConnectTimeout,
			MaxPoolSize:     cfg.Mongo.MaxPoolSize,
			MinPoolSize:     cfg.Mongo.MinPoolSize,
			ConnectAttempts: cfg.Mongo.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		a.mongoDB = db
		return notificationsmongo.NewRepository(db), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// applyMigrations brings the postgres schema up to date before the pool is
// handed to the repository. A schema already at the latest version is not
// an error.
func (a *App) applyMigrations(databaseURL string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			a.logger.Error("close migration source failed", "error", sourceErr)
		}
		if dbErr != nil {
			a.logger.Error("close migration database failed", "error", dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			a.logger.Info("database schema is up to date")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	schemaVersion, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	a.logger.Info("database migrations applied", "version", schemaVersion, "dirty", dirty)

	return nil
}

func (a *App) closeStorage() {
	if a.db != nil {
		a.db.Close()
	}
	if a.mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongoDB.Client().Disconnect(ctx); err != nil {
			a.logger.Error("mongodb disconnect failed", "error", err)
		}
	}
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage_driver", a.config.Storage.Driver,
		"longpoll_timeout", a.config.LongPoll.Timeout,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. Pending waiters are
// released first so their handlers can reply before the server drains.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers", "pending_waiters", a.registry.Len())

	a.metricsCancel()
	a.registry.Shutdown()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeStorage()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Registry returns the waiter registry. Used in tests to observe waiter state.
func (a *App) Registry() *registry.Registry[[]string] {
	return a.registry
}

func (a *App) setupRouter(repo notifications.Repository) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// No chi timeout middleware here: suspended long polls outlive any
	// per-request deadline; the server write timeout bounds them instead.

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	longpollService := longpoll.NewService(repo, repo, renderer, a.registry, a.config.LongPoll.Timeout)
	longpollHandler := longpoll.NewHandler(longpollService)

	triggerService := trigger.NewService(repo, repo, repo, renderer, a.registry)
	triggerHandler := trigger.NewHandler(
		triggerService,
		trigger.NewTokenVerifier(a.config.Push.JWTSecret),
		rate.NewLimiter(rate.Limit(a.config.Push.RateLimit), a.config.Push.RateBurst),
	)

	r.Route("/api/v1", func(r chi.Router) {
		longpollHandler.RegisterRoutes(r)
		triggerHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var err error
	switch {
	case a.db != nil:
		err = a.db.Ping(ctx)
	case a.mongoDB != nil:
		err = a.mongoDB.Client().Ping(ctx, nil)
	}
	if err != nil {
		a.logger.Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
