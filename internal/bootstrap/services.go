package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mstrycker/docexport/config"
	"github.com/mstrycker/docexport/internal/adapters/redisq"
	"github.com/mstrycker/docexport/internal/adapters/sweeper"
	"github.com/mstrycker/docexport/internal/adapters/worker"
	"github.com/mstrycker/docexport/internal/data"
	httpx "github.com/mstrycker/docexport/internal/http"
	"github.com/mstrycker/docexport/internal/migrate"
	"github.com/mstrycker/docexport/internal/render"
	"github.com/mstrycker/docexport/internal/service"
)

const httpShutdownGrace = 10 * time.Second

// ServiceContainer holds all application services and shared adapters.
type ServiceContainer struct {
	Export *service.ExportService
	Repo   *data.JobRepo
	Store  *data.FSArtifactStore
	Queue  *redisq.Queue
}

// NewServicesOptions groups the dependencies for building the container.
type NewServicesOptions struct {
	DB     *sql.DB
	Redis  redis.UniversalClient
	Config *config.AppConfig
	Logger *slog.Logger
}

// NewServices builds the service container shared by every service mode.
func NewServices(opts NewServicesOptions) (*ServiceContainer, error) {
	if opts.DB == nil {
		return nil, errors.New("database connection is required")
	}
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Config == nil {
		return nil, errors.New("app config is required")
	}

	repo := data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	store, err := data.NewFSArtifactStore(opts.Config.Export.StorageDir, data.FSArtifactStoreConfig{
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	queue := redisq.NewQueue(opts.Redis, opts.Config.Export.QueueName)

	export, err := service.NewExportService(service.ExportServiceOptions{
		Repo:   repo,
		Queue:  queue,
		Store:  store,
		Config: opts.Config.Export,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init export service: %w", err)
	}

	return &ServiceContainer{
		Export: export,
		Repo:   repo,
		Store:  store,
		Queue:  queue,
	}, nil
}

// RunMigrations applies schema migrations when enabled.
func RunMigrations(ctx context.Context, db *sql.DB, cfg *config.AppConfig, logger *slog.Logger) error {
	if !cfg.Postgres.RunMigrationsOnStart {
		logger.Info("skipping migrations on start")
		return nil
	}
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ServiceOrchestrationConfig bundles everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	DB       *sql.DB
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service
// fails, then shuts the rest down gracefully.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("service orchestration config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Config.IsHTTPServerEnabled() {
		srv := newHTTPServer(cfg.Config, cfg.Services, logger)
		g.Go(func() error { return runHTTPServer(gctx, srv, logger) })
	}

	if cfg.Config.IsWorkerEnabled() {
		runner, err := worker.NewRunner(worker.RunnerOptions{
			Repo:     cfg.Services.Repo,
			Queue:    cfg.Services.Queue,
			Store:    cfg.Services.Store,
			Renderer: render.NewRegistry(render.RegistryConfig{ConverterBin: cfg.Config.Export.ConverterBin}),
			Config:   cfg.Config.Worker,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("init worker: %w", err)
		}
		g.Go(func() error { return runner.Run(gctx) })
	}

	if cfg.Config.IsSweeperEnabled() {
		runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
			DB:      cfg.DB,
			Repo:    cfg.Services.Repo,
			Store:   cfg.Services.Store,
			Queue:   cfg.Services.Queue,
			Sweeper: cfg.Config.Sweeper,
			Worker:  cfg.Config.Worker,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("init sweeper: %w", err)
		}
		g.Go(func() error { return runner.Run(gctx) })
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("all services stopped")
	return nil
}

func newHTTPServer(cfg *config.AppConfig, services *ServiceContainer, logger *slog.Logger) *http.Server {
	handler := httpx.NewRouter(httpx.RouterServices{
		Export: services.Export,
		APIKey: cfg.HTTP.APIKey,
		Logger: logger,
	})
	return &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
}

func runHTTPServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return <-serveErr
	}
}
