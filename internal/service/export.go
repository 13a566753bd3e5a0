// Package service contains the business logic of the export pipeline:
// admission, status reads, downloads, and retention.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mstrycker/docexport/config"
	"github.com/mstrycker/docexport/internal/core"
	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// TimeProvider abstracts the clock for deterministic tests.
type TimeProvider interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ExportServiceOptions groups dependencies for ExportService.
type ExportServiceOptions struct {
	Repo   core.JobRepository // Required: job store
	Queue  core.Queue         // Required: worker wake-up channel
	Store  core.ArtifactStore // Required: bundle storage
	Config config.ExportConfig
	Logger *slog.Logger // Optional: structured logger
	Clock  TimeProvider // Optional: defaults to the system clock
}

// ExportService handles admission, status reads, and downloads. The job
// store is the source of truth; the queue only wakes workers up.
type ExportService struct {
	repo   core.JobRepository
	queue  core.Queue
	store  core.ArtifactStore
	config config.ExportConfig
	logger *slog.Logger
	clock  TimeProvider
}

// NewExportService constructs a new ExportService.
func NewExportService(opts ExportServiceOptions) (*ExportService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ArtifactStore is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &ExportService{
		repo:   opts.Repo,
		queue:  opts.Queue,
		store:  opts.Store,
		config: opts.Config,
		logger: logger.With("component", "export_service"),
		clock:  clock,
	}, nil
}

func (s *ExportService) limits() model.RequestLimits {
	return model.RequestLimits{
		MaxTitleLen:      s.config.MaxTitleLen,
		MaxTextLen:       s.config.MaxTextLen,
		MaxSections:      s.config.MaxSections,
		MaxTables:        s.config.MaxTables,
		MaxTableRows:     s.config.MaxTableRows,
		AllowedTemplates: s.config.AllowedTemplates,
	}
}

// Submit validates the request, persists a pending job, and enqueues its id.
// An identical request already pending or running for the same session is
// not re-admitted; the existing job is returned instead.
func (s *ExportService) Submit(ctx context.Context, req *model.ExportRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(s.limits()); err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			return nil, apperrors.ValidationField(vErr.Field, vErr.Message)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid export request")
	}

	digest, err := req.Digest()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "compute payload digest")
	}

	if existing, dupErr := s.repo.FindActiveDuplicate(ctx, req.SessionID, digest); dupErr != nil {
		return nil, dupErr
	} else if existing != nil {
		s.logger.InfoContext(ctx, "duplicate submission coalesced",
			"job_id", existing.ID, "session_id", req.SessionID)
		return existing, nil
	}

	job, err := s.createAndEnqueue(ctx, req, digest)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "job admitted",
		"job_id", job.ID, "session_id", job.SessionID, "formats", job.Formats)
	return job, nil
}

func (s *ExportService) createAndEnqueue(ctx context.Context, req *model.ExportRequest, digest string) (*model.Job, error) {
	payload, err := req.MarshalPayload()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal payload")
	}

	code, err := newDownloadCode()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate download code")
	}

	now := s.clock.Now().UTC()
	job := &model.Job{
		ID:            uuid.NewString(),
		Status:        model.JobStatusPending,
		SessionID:     req.SessionID,
		UserID:        req.UserID,
		Formats:       req.Formats,
		Payload:       payload,
		PayloadDigest: digest,
		DownloadCode:  &code,
		MaxRetries:    s.config.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.config.TTL),
	}

	if createErr := s.repo.Create(ctx, job); createErr != nil {
		// A racing identical submission hit the dedup index first.
		if apperrors.IsConflict(createErr) {
			if existing, dupErr := s.repo.FindActiveDuplicate(ctx, req.SessionID, digest); dupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, createErr
	}

	if enqErr := s.queue.Enqueue(ctx, job.ID); enqErr != nil {
		// Admission must not leave a job no worker will ever see. Best
		// effort: remove the record so the caller can retry cleanly.
		if _, delErr := s.repo.Delete(ctx, job.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "orphaned job after enqueue failure",
				"job_id", job.ID, "err", delErr)
		}
		return nil, apperrors.Wrap(enqErr, apperrors.ErrCodeStorage, "enqueue job")
	}
	return job, nil
}

// newDownloadCode returns a short URL-safe token identifying the finished
// bundle, unique per job via the download_code column constraint.
func newDownloadCode() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// GetStatus returns the read-only status view of a job. The download code is
// surfaced only once the bundle exists.
func (s *ExportService) GetStatus(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &model.JobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Error:     job.ErrorDetail,
		ResultRef: job.ResultRef,
		ExpiresAt: job.ExpiresAt,
	}
	if job.Status == model.JobStatusComplete {
		resp.DownloadCode = job.DownloadCode
	}
	return resp, nil
}

// GetArtifactStream opens the bundle of a complete job for streaming. The
// caller owns the returned ReadCloser.
func (s *ExportService) GetArtifactStream(ctx context.Context, id string) (io.ReadCloser, *model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	switch job.Status {
	case model.JobStatusPending, model.JobStatusRunning:
		return nil, nil, apperrors.NotReady("job has not completed yet")
	case model.JobStatusFailed:
		return nil, nil, apperrors.NotFoundf("job %s failed and produced no artifact", id)
	case model.JobStatusComplete:
	default:
		return nil, nil, apperrors.Internal("job in unknown status")
	}

	if job.ResultRef == nil {
		return nil, nil, apperrors.Internal("complete job has no result reference")
	}
	rc, err := s.store.Get(ctx, *job.ResultRef)
	if err != nil {
		return nil, nil, err
	}
	return rc, job, nil
}

// Delete removes a job and its artifact. The artifact goes first; a record
// without an artifact is a cleanup candidate, an artifact without a record
// is unreachable garbage.
func (s *ExportService) Delete(ctx context.Context, id string) error {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if job.ResultRef != nil {
		if delErr := s.store.Delete(ctx, *job.ResultRef); delErr != nil {
			return delErr
		}
	}

	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFoundf("job %s not found", id)
	}

	s.logger.InfoContext(ctx, "job deleted", "job_id", id)
	return nil
}

// Stats returns per-status job counts.
func (s *ExportService) Stats(ctx context.Context) (*model.JobStats, error) {
	return s.repo.Stats(ctx)
}
