// Package core contains the port interfaces between the service layer and
// its collaborators (job store, artifact store, queue, renderers).
package core

import (
	"context"
	"io"
	"time"

	"github.com/mstrycker/docexport/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job record operations. The job
// store is the single source of truth for status; every transition is a
// compare-and-set guarded by the expected current status.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// FindActiveDuplicate returns a pending or running job with the same
	// session and payload digest, or nil when none exists.
	FindActiveDuplicate(ctx context.Context, sessionID, digest string) (*model.Job, error)
	// Claim performs the pending→running transition. Returns false when the
	// job was already claimed, terminal, or deleted.
	Claim(ctx context.Context, id string) (bool, error)
	// Complete performs running→complete and records the result reference
	// atomically with the status.
	Complete(ctx context.Context, id, resultRef string) (bool, error)
	// Fail performs running→failed and records the error detail.
	Fail(ctx context.Context, id, errDetail string) (bool, error)
	// Retry resets running→pending and increments the retry count; once the
	// ceiling is reached the job is failed with errDetail instead. The
	// returned status is the job's status after the update.
	Retry(ctx context.Context, id, errDetail string) (model.JobStatus, error)
	// SetProgress records a coarse completion percentage for a running job.
	SetProgress(ctx context.Context, id string, progress int) error
	// FailTimedOut fails running jobs claimed before the cutoff.
	FailTimedOut(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error)
	// RequeueStalePending returns ids of pending jobs untouched since the
	// cutoff, bumping updated_at so each is returned once per window.
	RequeueStalePending(ctx context.Context, updatedBefore time.Time, batchSize int) ([]string, error)
	// ListExpired returns jobs whose retention window elapsed before the cutoff.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.Job, error)
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// ArtifactStore defines durable byte storage keyed by artifact reference.
// Get must stream; callers own the returned ReadCloser.
type ArtifactStore interface {
	Put(ctx context.Context, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// Queue is the at-least-once delivery channel between admission and workers.
// Messages carry only the job id; payloads are looked up from the store.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks up to the given duration. It returns an empty id when
	// the wait elapsed without a message.
	Dequeue(ctx context.Context, block time.Duration) (string, error)
}

// Renderer produces one artifact for a format into dir and returns its path.
type Renderer interface {
	Render(ctx context.Context, req *model.ExportRequest, dir string) (string, error)
}
