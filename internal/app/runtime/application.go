// Package runtime wires configuration, persistence, the hosting runtime and
// the REST API into a runnable server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/apphost/internal/app"
	"github.com/R3E-Network/apphost/internal/app/httpapi"
	"github.com/R3E-Network/apphost/internal/app/services/lifecycle"
	"github.com/R3E-Network/apphost/internal/app/storage/postgres"
	"github.com/R3E-Network/apphost/internal/config"
	"github.com/R3E-Network/apphost/internal/hosting"
	"github.com/R3E-Network/apphost/internal/middleware"
	"github.com/R3E-Network/apphost/internal/platform/migrations"
	"github.com/R3E-Network/apphost/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	handler http.Handler
	server  *http.Server
	limiter *middleware.RateLimiter
	db      *sqlx.DB
	redis   *redis.Client
}

// NewApplication constructs a new application instance from cfg.
func NewApplication(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)
	a := &Application{cfg: cfg, log: log}

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if cfg.Database.Migrate {
			if err := migrations.Up(db.DB); err != nil {
				a.close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		store := postgres.New(db)
		stores = app.Stores{Modules: store, Deployments: store, Events: store}
	} else {
		log.Warn("DATABASE_URL not set; state is kept in memory")
	}

	var locker lifecycle.Locker
	if cfg.Redis.Addr != "" {
		client, err := openRedis(cfg.Redis)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		locker = lifecycle.NewRedisLocker(client, cfg.Redis.LockTTL)
	}

	rt, err := buildRuntime(cfg.Runtime, log)
	if err != nil {
		a.close()
		return nil, err
	}

	application, err := app.New(stores, app.Options{
		Runtime: rt,
		Locker:  locker,
		Lifecycle: lifecycle.Config{
			LoadTimeout:   cfg.Lifecycle.LoadTimeout,
			UnloadTimeout: cfg.Lifecycle.UnloadTimeout,
		},
		TickInterval:      cfg.Lifecycle.TickInterval,
		ReconcileSchedule: cfg.Reconcile.Schedule,
		CatalogPath:       cfg.Catalog.Path,
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build application: %w", err)
	}
	a.app = application

	opts := httpapi.RouterOptions{
		Logger: log.Named("http"),
		Auth: middleware.NewAuthMiddleware(middleware.AuthConfig{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
			Anonymous: cfg.Auth.Anonymous,
			SkipPaths: []string{"/healthz", "/metrics"},
		}, log.Named("auth")),
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.Named("ratelimit"))
		opts.RateLimiter = a.limiter
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		opts.CORS = middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins)
	}
	a.handler = httpapi.NewRouter(application, opts)

	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return a, nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application { return a.app }

// Handler returns the REST API handler.
func (a *Application) Handler() http.Handler { return a.handler }

// Run starts background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).
			WithField("runtime", a.cfg.Runtime.Mode).
			Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting requests, waits for in-flight lifecycle
// operations and closes connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.close()
	return errors.Join(errs...)
}

func (a *Application) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
}

func buildRuntime(cfg config.RuntimeConfig, log *logger.Logger) (hosting.Runtime, error) {
	local := hosting.NewLocalRuntime(cfg.HostSuffix, cfg.StartupDelay)
	switch cfg.Mode {
	case config.RuntimeLocal, "":
		return local, nil
	case config.RuntimeHTTP:
		return hosting.NewHTTPRuntime(hosting.HTTPConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			URLPath: cfg.URLPath,
			Timeout: cfg.Timeout,
		}), nil
	case config.RuntimeScript:
		return hosting.NewScriptRuntime(local, cfg.HostSuffix, log.Named("script")), nil
	default:
		return nil, fmt.Errorf("unknown runtime mode %q", cfg.Mode)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
