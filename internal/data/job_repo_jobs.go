package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/mstrycker/docexport/internal/errors"

	"github.com/mstrycker/docexport/internal/domain/model"
)

// Create inserts a new job record in status pending. A concurrent duplicate
// (same session and payload digest, still active) surfaces as a Conflict via
// the partial unique index.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}

	formats, err := json.Marshal(job.Formats)
	if err != nil {
		return fmt.Errorf("marshal formats: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO export_jobs(
			id, status, session_id, user_id, formats, payload, payload_digest,
			download_code, retry_count, max_retries, created_at, updated_at, expires_at
		)
		VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, 0, $8, $9, $9, $10)
	`,
		job.ID,
		job.SessionID,
		job.UserID,
		formats,
		[]byte(job.Payload),
		job.PayloadDigest,
		job.DownloadCode,
		job.MaxRetries,
		now,
		job.ExpiresAt.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// FindActiveDuplicate returns a pending or running job with the same session
// and payload digest, or nil when none exists.
func (r *JobRepo) FindActiveDuplicate(ctx context.Context, sessionID, digest string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE session_id = $1
		  AND payload_digest = $2
		  AND status IN ('pending', 'running')
		LIMIT 1
	`, sessionID, digest)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// Claim performs the pending→running transition. The WHERE clause on the
// current status makes this a compare-and-set: at most one worker wins.
func (r *JobRepo) Claim(ctx context.Context, id string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = 'running',
		    progress = 5,
		    claimed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", apperrors.MapDBError(err))
	}
	return affectedOne(res)
}

// Complete performs running→complete, recording the result reference
// atomically with the status.
func (r *JobRepo) Complete(ctx context.Context, id, resultRef string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = 'complete',
		    result_ref = $2,
		    error_detail = NULL,
		    progress = 100,
		    claimed_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, resultRef, now)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", apperrors.MapDBError(err))
	}
	return affectedOne(res)
}

// Fail performs running→failed with the given error detail.
func (r *JobRepo) Fail(ctx context.Context, id, errDetail string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = 'failed',
		    error_detail = $2,
		    result_ref = NULL,
		    claimed_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, errDetail, now)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", apperrors.MapDBError(err))
	}
	return affectedOne(res)
}

// Retry resets a running job back to pending and increments the retry count.
// At the retry ceiling the job is failed with errDetail instead. The error
// detail is only persisted on the failed branch so that a pending job never
// carries one. Returns the job's status after the update, or empty when the
// job was not running.
func (r *JobRepo) Retry(ctx context.Context, id, errDetail string) (model.JobStatus, error) {
	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE export_jobs
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    error_detail = CASE WHEN retry_count + 1 >= max_retries THEN $2 ELSE NULL END,
		    progress = CASE WHEN retry_count + 1 >= max_retries THEN progress ELSE 0 END,
		    claimed_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
		RETURNING status
	`, id, errDetail, now)

	var status model.JobStatus
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("retry job: %w", apperrors.MapDBError(err))
	}
	return status, nil
}

// SetProgress records a coarse completion percentage for a running job.
// Progress is advisory, so a lost update is harmless; the WHERE clause keeps
// a late writer from touching a job that already settled.
func (r *JobRepo) SetProgress(ctx context.Context, id string, progress int) error {
	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		UPDATE export_jobs
		SET progress = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, progress, now)
	if err != nil {
		return fmt.Errorf("set job progress: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Delete removes a job record regardless of status. Deleting a pending or
// running job is a valid external cancellation; the worker detects the
// missing record and abandons work.
func (r *JobRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM export_jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", apperrors.MapDBError(err))
	}
	return affectedOne(res)
}

// Stats returns per-status job counts.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'pending')  AS pending,
	    count(*) FILTER (WHERE status = 'running')  AS running,
	    count(*) FILTER (WHERE status = 'complete') AS complete,
	    count(*) FILTER (WHERE status = 'failed')   AS failed
	  FROM export_jobs
	`).Scan(&s.Pending, &s.Running, &s.Complete, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", apperrors.MapDBError(err))
	}
	return &s, nil
}

func affectedOne(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}
