package data

import (
	"context"
	"fmt"
	"time"

	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// FailTimedOut fails running jobs whose claim timestamp is older than the
// cutoff. A stuck render must not hold a job claimed forever; exceeding the
// maximum processing duration is a fatal timeout, not a retry.
func (r *JobRepo) FailTimedOut(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = 'failed',
		    error_detail = 'processing timed out',
		    claimed_at = NULL,
		    updated_at = $3
		WHERE id IN (
			SELECT id FROM export_jobs
			WHERE status = 'running' AND claimed_at < $1
			LIMIT $2
		)
	`, claimedBefore.UTC(), batchSize, now)
	if err != nil {
		return 0, fmt.Errorf("fail timed out jobs: %w", apperrors.MapDBError(err))
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

// RequeueStalePending returns the ids of pending jobs untouched since the
// cutoff, bumping updated_at so each job is picked up once per staleness
// window. Callers enqueue the returned ids; a duplicate delivery is harmless
// because claiming is a compare-and-set.
func (r *JobRepo) RequeueStalePending(ctx context.Context, updatedBefore time.Time, batchSize int) ([]string, error) {
	now := r.timeProvider.Now().UTC()
	rows, err := r.DB.QueryContext(ctx, `
		UPDATE export_jobs
		SET updated_at = $3
		WHERE id IN (
			SELECT id FROM export_jobs
			WHERE status = 'pending' AND updated_at < $1
			LIMIT $2
		)
		RETURNING id
	`, updatedBefore.UTC(), batchSize, now)
	if err != nil {
		return nil, fmt.Errorf("requeue stale pending jobs: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("scan stale pending job: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate stale pending jobs: %w", rowsErr)
	}
	return ids, nil
}

// ListExpired returns jobs whose retention window elapsed before the cutoff,
// oldest first.
func (r *JobRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan expired job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate expired jobs: %w", rowsErr)
	}
	return jobs, nil
}
