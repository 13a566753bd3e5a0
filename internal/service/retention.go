package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/mstrycker/docexport/config"
	"github.com/mstrycker/docexport/internal/core"
)

// RetentionServiceOptions groups dependencies for RetentionService.
type RetentionServiceOptions struct {
	Repo    core.JobRepository // Required: job store
	Store   core.ArtifactStore // Required: bundle storage
	Queue   core.Queue         // Required: stale pending re-enqueue
	Sweeper config.SweeperConfig
	Worker  config.WorkerConfig
	Logger  *slog.Logger // Optional: structured logger
	Clock   TimeProvider // Optional: defaults to the system clock
}

// RetentionService runs the periodic sweep:
// - Failing running jobs that exceeded the maximum processing duration.
// - Re-enqueueing pending jobs whose queue message went missing.
// - Deleting expired jobs and their artifacts.
//
// The sweep runs on its own clock, independent of request traffic, so a
// quiet deployment still converges on zero expired data.
type RetentionService struct {
	repo    core.JobRepository
	store   core.ArtifactStore
	queue   core.Queue
	sweeper config.SweeperConfig
	worker  config.WorkerConfig
	logger  *slog.Logger
	clock   TimeProvider
}

// NewRetentionService constructs a new RetentionService.
func NewRetentionService(opts RetentionServiceOptions) (*RetentionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ArtifactStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &RetentionService{
		repo:    opts.Repo,
		store:   opts.Store,
		queue:   opts.Queue,
		sweeper: opts.Sweeper,
		worker:  opts.Worker,
		logger:  logger.With("component", "retention_service"),
		clock:   clock,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *RetentionService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting retention sweeper", "interval", s.sweeper.Interval)

	// Jitter prevents a thundering herd when several instances start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.sweeper.Interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "retention sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *RetentionService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.sweeper.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// Sweep runs one pass of both cleanup steps. Errors are logged, not
// returned; a failed pass is retried next tick.
func (s *RetentionService) Sweep(ctx context.Context) {
	if timedOut, err := s.failTimedOutJobs(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "failing timed out jobs", "err", err)
		}
	} else if timedOut > 0 {
		s.logger.InfoContext(ctx, "failed timed out jobs", "count", timedOut)
	}

	if requeued, err := s.requeueStalePending(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "requeueing stale pending jobs", "err", err)
		}
	} else if requeued > 0 {
		s.logger.InfoContext(ctx, "requeued stale pending jobs", "count", requeued)
	}

	removed, err := s.removeExpiredJobs(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "removing expired jobs", "err", err)
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "removed expired jobs", "count", removed)
	}
}

func (s *RetentionService) failTimedOutJobs(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-s.worker.MaxProcessing)
	return s.repo.FailTimedOut(ctx, cutoff, s.sweeper.BatchSize)
}

// requeueStalePending pushes pending jobs whose queue message was lost (a
// crash between dequeue and claim, or a failed re-enqueue after a retry)
// back onto the queue. Duplicate delivery is safe; claiming is a
// compare-and-set.
func (s *RetentionService) requeueStalePending(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.sweeper.PendingStaleAfter)
	ids, err := s.repo.RequeueStalePending(ctx, cutoff, s.sweeper.BatchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return requeued, ctx.Err()
		}
		if enqErr := s.queue.Enqueue(ctx, id); enqErr != nil {
			// The staleness window already advanced for this job; the next
			// window retries it.
			s.logger.ErrorContext(ctx, "re-enqueueing stale pending job",
				"job_id", id, "err", enqErr)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// removeExpiredJobs deletes expired jobs artifact first. If the record
// delete then fails, the next sweep retries; artifact deletion is
// idempotent, so the retry converges instead of leaking.
func (s *RetentionService) removeExpiredJobs(ctx context.Context) (int, error) {
	jobs, err := s.repo.ListExpired(ctx, s.clock.Now().UTC(), s.sweeper.BatchSize)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		if job.ResultRef != nil {
			if delErr := s.store.Delete(ctx, *job.ResultRef); delErr != nil {
				s.logger.ErrorContext(ctx, "deleting expired artifact",
					"job_id", job.ID, "ref", *job.ResultRef, "err", delErr)
				continue
			}
		}
		if _, delErr := s.repo.Delete(ctx, job.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "deleting expired job record",
				"job_id", job.ID, "err", delErr)
			continue
		}
		removed++
	}
	return removed, nil
}
