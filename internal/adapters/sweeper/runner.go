// Package sweeper provides the adapter for running the retention sweep loop.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mstrycker/docexport/config"
	"github.com/mstrycker/docexport/internal/core"
	"github.com/mstrycker/docexport/internal/data"
	"github.com/mstrycker/docexport/internal/service"
)

// Runner constructs the retention service and runs the sweep loop.
type Runner struct {
	retention *service.RetentionService
	logger    *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB      *sql.DB
	Store   core.ArtifactStore
	Queue   core.Queue
	Sweeper config.SweeperConfig
	Worker  config.WorkerConfig
	Logger  *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo core.JobRepository
}

// NewRunner creates a new sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.Repo == nil {
		return nil, errors.New("either DB or Repo must be provided")
	}
	if opts.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}

	retention, err := service.NewRetentionService(service.RetentionServiceOptions{
		Repo:    repo,
		Store:   opts.Store,
		Queue:   opts.Queue,
		Sweeper: opts.Sweeper,
		Worker:  opts.Worker,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire retention service: %w", err)
	}

	return &Runner{retention: retention, logger: opts.Logger}, nil
}

// Run runs the sweep loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	return r.retention.Run(ctx)
}
