// Package worker runs the export worker pool: it pulls job ids off the
// queue, claims jobs, renders every requested format, and bundles the
// results into the artifact store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mstrycker/docexport/config"
	"github.com/mstrycker/docexport/internal/bundle"
	"github.com/mstrycker/docexport/internal/core"
	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
	"github.com/mstrycker/docexport/internal/render"
)

const workDirPrefix = "export-job-"

// TimeProvider abstracts the clock for deterministic tests.
type TimeProvider interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RunnerOptions configures the worker runner.
type RunnerOptions struct {
	Repo     core.JobRepository // Required: job store
	Queue    core.Queue         // Required: wake-up channel
	Store    core.ArtifactStore // Required: bundle storage
	Renderer *render.Registry   // Required: format renderers
	Config   config.WorkerConfig
	Logger   *slog.Logger // Optional: structured logger
	Clock    TimeProvider // Optional: defaults to the system clock

	// WorkDir is where per-job scratch directories are created.
	// Defaults to the system temp directory.
	WorkDir string
}

// Runner pulls job ids and processes them with a pool of goroutines.
type Runner struct {
	repo     core.JobRepository
	queue    core.Queue
	store    core.ArtifactStore
	renderer *render.Registry
	config   config.WorkerConfig
	logger   *slog.Logger
	clock    TimeProvider
	workDir  string
}

// NewRunner constructs a worker runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ArtifactStore is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("renderer registry is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &Runner{
		repo:     opts.Repo,
		queue:    opts.Queue,
		store:    opts.Store,
		renderer: opts.Renderer,
		config:   opts.Config,
		logger:   logger.With("component", "export_worker"),
		clock:    clock,
		workDir:  workDir,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled. Returns nil on graceful shutdown, the first fatal error
// otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting export workers",
		"workers", r.config.Concurrency, "max_processing", r.config.MaxProcessing)

	r.cleanStaleWorkDirs(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.config.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		jobID, err := r.queue.Dequeue(ctx, r.config.DequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		if jobID == "" {
			continue
		}
		r.processJob(ctx, jobID)
	}
	return ctx.Err()
}

// processJob drives one job from claim to terminal state. Terminal
// transitions may fail the compare-and-set when the job was deleted or
// force-failed mid-flight; the work is then abandoned without touching the
// record.
func (r *Runner) processJob(ctx context.Context, jobID string) {
	logger := r.logger.With("job_id", jobID)

	job, err := r.repo.GetByID(ctx, jobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			logger.InfoContext(ctx, "job vanished before claim, dropping")
			return
		}
		logger.ErrorContext(ctx, "loading job", "err", err)
		return
	}
	if job.Status.Terminal() {
		logger.InfoContext(ctx, "job already terminal, dropping", "status", job.Status)
		return
	}

	claimed, err := r.repo.Claim(ctx, jobID)
	if err != nil {
		logger.ErrorContext(ctx, "claiming job", "err", err)
		return
	}
	if !claimed {
		logger.InfoContext(ctx, "lost claim race, dropping")
		return
	}

	start := time.Now()
	procCtx, cancel := context.WithTimeout(ctx, r.config.MaxProcessing)
	defer cancel()

	ref, err := r.renderAndStore(procCtx, job)
	if err != nil {
		r.settleFailure(ctx, logger, job, err)
		return
	}

	done, err := r.repo.Complete(ctx, jobID, ref)
	if err != nil {
		logger.ErrorContext(ctx, "completing job", "err", err)
		return
	}
	if !done {
		// The record was deleted or force-failed while we rendered; the
		// stored bundle is unreachable, so remove it.
		logger.WarnContext(ctx, "job no longer running at completion, discarding bundle", "ref", ref)
		if delErr := r.store.Delete(ctx, ref); delErr != nil {
			logger.ErrorContext(ctx, "discarding orphaned bundle", "ref", ref, "err", delErr)
		}
		return
	}

	logger.InfoContext(ctx, "job complete",
		"ref", ref, "formats", job.Formats, "elapsed", time.Since(start))
}

// renderAndStore renders every requested format into a scratch directory,
// bundles the artifacts, and uploads the archive.
func (r *Runner) renderAndStore(ctx context.Context, job *model.Job) (string, error) {
	var req model.ExportRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeRenderPermanent, "decode job payload")
	}

	dir, err := os.MkdirTemp(r.workDir, workDirPrefix)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create scratch dir")
	}
	defer os.RemoveAll(dir)

	inputs := make([]bundle.Input, 0, len(job.Formats))
	for i, f := range job.Formats {
		path, renderErr := r.renderer.Render(ctx, f, &req, dir)
		if renderErr != nil {
			return "", renderErr
		}
		inputs = append(inputs, bundle.Input{Path: path, Format: f})
		r.noteProgress(ctx, job.ID, 10+(i+1)*60/len(job.Formats))
	}

	zipPath, err := bundle.Build(ctx, bundle.Request{
		JobID:     job.ID,
		SessionID: job.SessionID,
		UserID:    job.UserID,
		Formats:   job.Formats,
		Inputs:    inputs,
		CreatedAt: r.clock.Now(),
	}, dir)
	if err != nil {
		return "", err
	}
	r.noteProgress(ctx, job.ID, 80)

	f, err := os.Open(zipPath)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "open bundle for upload")
	}
	defer f.Close()

	ref, err := r.store.Put(ctx, f, "application/zip")
	if err != nil {
		return "", err
	}
	r.noteProgress(ctx, job.ID, 90)
	return ref, nil
}

// noteProgress records advisory progress; failures are logged, never fatal.
func (r *Runner) noteProgress(ctx context.Context, jobID string, progress int) {
	if err := r.repo.SetProgress(ctx, jobID, progress); err != nil {
		r.logger.WarnContext(ctx, "recording job progress", "job_id", jobID, "err", err)
	}
}

// settleFailure maps a processing error to its terminal or retry transition.
func (r *Runner) settleFailure(ctx context.Context, logger *slog.Logger, job *model.Job, procErr error) {
	detail := procErr.Error()

	switch {
	case errors.Is(procErr, context.DeadlineExceeded) || apperrors.IsTimeout(procErr):
		detail = fmt.Sprintf("processing exceeded %s", r.config.MaxProcessing)
		fallthrough
	case apperrors.IsRenderPermanent(procErr) || apperrors.IsValidation(procErr):
		logger.WarnContext(ctx, "job failed terminally", "err", procErr)
		if ok, failErr := r.repo.Fail(ctx, job.ID, detail); failErr != nil {
			logger.ErrorContext(ctx, "failing job", "err", failErr)
		} else if !ok {
			logger.WarnContext(ctx, "job no longer running at failure, abandoning")
		}

	case errors.Is(procErr, context.Canceled):
		// Shutdown mid-render. Leave the job running; the sweeper resolves
		// the stale claim if no instance comes back for it.
		logger.InfoContext(ctx, "processing interrupted by shutdown")

	default:
		// Transient render errors and storage hiccups are retried up to the
		// per-job ceiling.
		status, retryErr := r.repo.Retry(ctx, job.ID, detail)
		if retryErr != nil {
			logger.ErrorContext(ctx, "retrying job", "err", retryErr)
			return
		}
		switch status {
		case model.JobStatusPending:
			logger.WarnContext(ctx, "job reset for retry", "err", procErr)
			if enqErr := r.queue.Enqueue(ctx, job.ID); enqErr != nil {
				// The job stays pending; the sweeper's stale-pending pass
				// re-enqueues it.
				logger.ErrorContext(ctx, "re-enqueueing retried job", "err", enqErr)
			}
		case model.JobStatusFailed:
			logger.WarnContext(ctx, "retry ceiling reached, job failed", "err", procErr)
		default:
			logger.WarnContext(ctx, "job no longer running at retry, abandoning")
		}
	}
}

// cleanStaleWorkDirs removes scratch directories left behind by a previous
// process that died mid-render.
func (r *Runner) cleanStaleWorkDirs(ctx context.Context) {
	entries, err := os.ReadDir(r.workDir)
	if err != nil {
		r.logger.WarnContext(ctx, "scanning work dir for stale scratch dirs", "err", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), workDirPrefix) {
			continue
		}
		path := filepath.Join(r.workDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.WarnContext(ctx, "removing stale scratch dir", "path", path, "err", err)
		} else {
			r.logger.InfoContext(ctx, "removed stale scratch dir", "path", path)
		}
	}
}
