package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstrycker/docexport/config"
	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

func newTestRetentionService(t *testing.T, repo *mockJobRepo, queue *mockQueue, store *mockStore) *RetentionService {
	t.Helper()
	svc, err := NewRetentionService(RetentionServiceOptions{
		Repo:    repo,
		Queue:   queue,
		Store:   store,
		Sweeper: config.SweeperConfig{Interval: time.Minute, BatchSize: 100, PendingStaleAfter: 10 * time.Minute},
		Worker:  config.WorkerConfig{MaxProcessing: 5 * time.Minute},
		Clock:   fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	return svc
}

func TestSweep_FailsTimedOutJobs(t *testing.T) {
	var cutoff time.Time
	repo := &mockJobRepo{
		failTimedOutFunc: func(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
			cutoff = claimedBefore
			return 2, nil
		},
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
			return nil, nil
		},
	}

	svc := newTestRetentionService(t, repo, &mockQueue{}, newMockStore())
	svc.Sweep(context.Background())

	want := time.Date(2025, 3, 1, 11, 55, 0, 0, time.UTC)
	assert.Equal(t, want, cutoff, "cutoff is now minus max processing duration")
}

func TestSweep_RequeuesStalePendingJobs(t *testing.T) {
	var cutoff time.Time
	repo := &mockJobRepo{
		failTimedOutFunc: func(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
			return 0, nil
		},
		requeueStalePendingFunc: func(ctx context.Context, updatedBefore time.Time, batchSize int) ([]string, error) {
			cutoff = updatedBefore
			return []string{"job-lost", "job-stuck"}, nil
		},
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
			return nil, nil
		},
	}
	queue := &mockQueue{}

	svc := newTestRetentionService(t, repo, queue, newMockStore())
	svc.Sweep(context.Background())

	want := time.Date(2025, 3, 1, 11, 50, 0, 0, time.UTC)
	assert.Equal(t, want, cutoff, "cutoff is now minus the pending staleness window")
	assert.Equal(t, []string{"job-lost", "job-stuck"}, queue.enqueued,
		"pending jobs whose queue message went missing must be re-enqueued")
}

func TestSweep_StalePendingEnqueueFailureDoesNotStopSweep(t *testing.T) {
	expiredListed := false
	repo := &mockJobRepo{
		failTimedOutFunc: func(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
			return 0, nil
		},
		requeueStalePendingFunc: func(ctx context.Context, updatedBefore time.Time, batchSize int) ([]string, error) {
			return []string{"job-lost"}, nil
		},
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
			expiredListed = true
			return nil, nil
		},
	}
	queue := &mockQueue{enqErr: apperrors.Storage("redis unavailable")}

	svc := newTestRetentionService(t, repo, queue, newMockStore())
	svc.Sweep(context.Background())

	assert.True(t, expiredListed, "later sweep passes must still run")
	assert.Empty(t, queue.enqueued)
}

func TestSweep_RemovesExpiredJobsArtifactFirst(t *testing.T) {
	ref := "bundle-old.zip"
	store := newMockStore()
	store.content[ref] = "old bytes"

	var deletedRecords []string
	repo := &mockJobRepo{
		failTimedOutFunc: func(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
			return 0, nil
		},
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
			return []*model.Job{
				{ID: "job-old", Status: model.JobStatusComplete, ResultRef: &ref},
				{ID: "job-failed", Status: model.JobStatusFailed},
			}, nil
		},
		deleteFunc: func(ctx context.Context, id string) (bool, error) {
			deletedRecords = append(deletedRecords, id)
			return true, nil
		},
	}

	svc := newTestRetentionService(t, repo, &mockQueue{}, store)
	svc.Sweep(context.Background())

	assert.Equal(t, []string{ref}, store.deleted)
	assert.ElementsMatch(t, []string{"job-old", "job-failed"}, deletedRecords)
}

func TestSweep_ArtifactDeleteFailureKeepsRecord(t *testing.T) {
	ref := "bundle-stuck.zip"
	store := newMockStore()
	store.delErr = apperrors.Storage("disk unavailable")

	var deletedRecords []string
	repo := &mockJobRepo{
		failTimedOutFunc: func(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
			return 0, nil
		},
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
			return []*model.Job{{ID: "job-stuck", Status: model.JobStatusComplete, ResultRef: &ref}}, nil
		},
		deleteFunc: func(ctx context.Context, id string) (bool, error) {
			deletedRecords = append(deletedRecords, id)
			return true, nil
		},
	}

	svc := newTestRetentionService(t, repo, &mockQueue{}, store)
	svc.Sweep(context.Background())

	assert.Empty(t, deletedRecords, "record must be kept so the next sweep retries the artifact")
}
