package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstrycker/docexport/config"
	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
	"github.com/mstrycker/docexport/internal/render"
)

// mockJobRepo is a mock implementation of core.JobRepository for testing.
type mockJobRepo struct {
	getByIDFunc     func(ctx context.Context, id string) (*model.Job, error)
	claimFunc       func(ctx context.Context, id string) (bool, error)
	completeFunc    func(ctx context.Context, id, resultRef string) (bool, error)
	failFunc        func(ctx context.Context, id, errDetail string) (bool, error)
	retryFunc       func(ctx context.Context, id, errDetail string) (model.JobStatus, error)
	setProgressFunc func(ctx context.Context, id string, progress int) error
}

func (m *mockJobRepo) Create(ctx context.Context, job *model.Job) error {
	return errors.New("not implemented")
}

func (m *mockJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) FindActiveDuplicate(ctx context.Context, sessionID, digest string) (*model.Job, error) {
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) Claim(ctx context.Context, id string) (bool, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, id)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Complete(ctx context.Context, id, resultRef string) (bool, error) {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, id, resultRef)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Fail(ctx context.Context, id, errDetail string) (bool, error) {
	if m.failFunc != nil {
		return m.failFunc(ctx, id, errDetail)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Retry(ctx context.Context, id, errDetail string) (model.JobStatus, error) {
	if m.retryFunc != nil {
		return m.retryFunc(ctx, id, errDetail)
	}
	return "", errors.New("not implemented")
}

func (m *mockJobRepo) SetProgress(ctx context.Context, id string, progress int) error {
	if m.setProgressFunc != nil {
		return m.setProgressFunc(ctx, id, progress)
	}
	return nil
}

func (m *mockJobRepo) FailTimedOut(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
	return 0, errors.New("not implemented")
}

func (m *mockJobRepo) RequeueStalePending(ctx context.Context, updatedBefore time.Time, batchSize int) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) Delete(ctx context.Context, id string) (bool, error) {
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	return nil, errors.New("not implemented")
}

// mockQueue records enqueued ids.
type mockQueue struct {
	mu       sync.Mutex
	enqueued []string
	enqErr   error
}

func (q *mockQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqErr != nil {
		return q.enqErr
	}
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func (q *mockQueue) Dequeue(ctx context.Context, block time.Duration) (string, error) {
	return "", nil
}

// mockStore keeps artifacts in memory.
type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
	nextRef string
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte), nextRef: "bundle-1.zip"}
}

func (s *mockStore) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.objects[s.nextRef] = raw
	return s.nextRef, nil
}

func (s *mockStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *mockStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, ref)
	delete(s.objects, ref)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency:   1,
		MaxProcessing: time.Minute,
		DequeueBlock:  time.Second,
	}
}

func testJob(t *testing.T, status model.JobStatus) *model.Job {
	t.Helper()
	req := model.ExportRequest{
		Title:     "Report",
		SessionID: "sess-1",
		Formats:   []model.Format{model.FormatTXT},
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	return &model.Job{
		ID:         "job-1",
		Status:     status,
		SessionID:  "sess-1",
		Formats:    []model.Format{model.FormatTXT},
		Payload:    payload,
		MaxRetries: 3,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func newTestRunner(t *testing.T, repo *mockJobRepo, queue *mockQueue, store *mockStore) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerOptions{
		Repo:     repo,
		Queue:    queue,
		Store:    store,
		Renderer: render.NewRegistry(render.RegistryConfig{}),
		Config:   testWorkerConfig(),
		WorkDir:  t.TempDir(),
	})
	require.NoError(t, err)
	return r
}

func TestProcessJob_HappyPath(t *testing.T) {
	store := newMockStore()
	var completedRef string
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) { return true, nil },
		completeFunc: func(ctx context.Context, id, resultRef string) (bool, error) {
			completedRef = resultRef
			return true, nil
		},
	}

	runner := newTestRunner(t, repo, &mockQueue{}, store)
	runner.processJob(context.Background(), "job-1")

	assert.Equal(t, "bundle-1.zip", completedRef)
	assert.NotEmpty(t, store.objects["bundle-1.zip"])
}

func TestProcessJob_RecordsProgressAtStageBoundaries(t *testing.T) {
	var mu sync.Mutex
	var progress []int
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			job := testJob(t, model.JobStatusPending)
			job.Formats = []model.Format{model.FormatTXT, model.FormatDOCX}
			req := model.ExportRequest{
				Title:     "Report",
				SessionID: "sess-1",
				Formats:   job.Formats,
			}
			payload, err := json.Marshal(req)
			require.NoError(t, err)
			job.Payload = payload
			return job, nil
		},
		claimFunc:    func(ctx context.Context, id string) (bool, error) { return true, nil },
		completeFunc: func(ctx context.Context, id, resultRef string) (bool, error) { return true, nil },
		setProgressFunc: func(ctx context.Context, id string, p int) error {
			mu.Lock()
			defer mu.Unlock()
			progress = append(progress, p)
			return nil
		},
	}

	runner := newTestRunner(t, repo, &mockQueue{}, newMockStore())
	runner.processJob(context.Background(), "job-1")

	assert.Equal(t, []int{40, 70, 80, 90}, progress,
		"per-format renders, bundling, and upload each advance progress")
}

func TestProcessJob_ManifestUsesRunnerClock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc:    func(ctx context.Context, id string) (bool, error) { return true, nil },
		completeFunc: func(ctx context.Context, id, resultRef string) (bool, error) { return true, nil },
	}

	runner, err := NewRunner(RunnerOptions{
		Repo:     repo,
		Queue:    &mockQueue{},
		Store:    store,
		Renderer: render.NewRegistry(render.RegistryConfig{}),
		Config:   testWorkerConfig(),
		WorkDir:  t.TempDir(),
		Clock:    fixedClock{t: fixed},
	})
	require.NoError(t, err)

	runner.processJob(context.Background(), "job-1")

	raw := store.objects["bundle-1.zip"]
	require.NotEmpty(t, raw)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	var manifest *model.BundleManifest
	for _, f := range zr.File {
		if f.Name != "manifest.json" {
			continue
		}
		rc, openErr := f.Open()
		require.NoError(t, openErr)
		encoded, readErr := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, readErr)
		manifest, err = model.DecodeManifest(encoded)
		require.NoError(t, err)
	}
	require.NotNil(t, manifest, "bundle must contain manifest.json")
	assert.True(t, manifest.CreatedAt.Equal(fixed), "manifest timestamp comes from the injected clock")
}

func TestProcessJob_DropsVanishedJob(t *testing.T) {
	claimed := false
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) {
			claimed = true
			return true, nil
		},
	}

	runner := newTestRunner(t, repo, &mockQueue{}, newMockStore())
	runner.processJob(context.Background(), "job-1")

	assert.False(t, claimed, "vanished job must not be claimed")
}

func TestProcessJob_DropsTerminalJob(t *testing.T) {
	claimed := false
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			job := testJob(t, model.JobStatusComplete)
			ref := "bundle-0.zip"
			job.ResultRef = &ref
			return job, nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) {
			claimed = true
			return true, nil
		},
	}

	runner := newTestRunner(t, repo, &mockQueue{}, newMockStore())
	runner.processJob(context.Background(), "job-1")

	assert.False(t, claimed, "terminal job must not be claimed")
}

func TestProcessJob_LosesClaimRace(t *testing.T) {
	store := newMockStore()
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) { return false, nil },
	}

	runner := newTestRunner(t, repo, &mockQueue{}, store)
	runner.processJob(context.Background(), "job-1")

	assert.Empty(t, store.objects, "losing worker must not render")
}

func TestProcessJob_OnlyOneClaimWins(t *testing.T) {
	var mu sync.Mutex
	claimed := false
	completions := 0

	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if claimed {
				return false, nil
			}
			claimed = true
			return true, nil
		},
		completeFunc: func(ctx context.Context, id, resultRef string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			completions++
			return true, nil
		},
	}

	runner := newTestRunner(t, repo, &mockQueue{}, newMockStore())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.processJob(context.Background(), "job-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completions, "exactly one worker completes the job")
}

func TestProcessJob_PermanentErrorFails(t *testing.T) {
	var failDetail string
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			job := testJob(t, model.JobStatusPending)
			job.Payload = []byte(`{"title": 123}`)
			return job, nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) { return true, nil },
		failFunc: func(ctx context.Context, id, errDetail string) (bool, error) {
			failDetail = errDetail
			return true, nil
		},
	}

	runner := newTestRunner(t, repo, &mockQueue{}, newMockStore())
	runner.processJob(context.Background(), "job-1")

	assert.Contains(t, failDetail, "decode job payload")
}

func TestProcessJob_TransientErrorRetriesAndRequeues(t *testing.T) {
	store := newMockStore()
	store.putErr = apperrors.Storage("artifact store unavailable")
	queue := &mockQueue{}

	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) { return true, nil },
		retryFunc: func(ctx context.Context, id, errDetail string) (model.JobStatus, error) {
			return model.JobStatusPending, nil
		},
	}

	runner := newTestRunner(t, repo, queue, store)
	runner.processJob(context.Background(), "job-1")

	assert.Equal(t, []string{"job-1"}, queue.enqueued, "retried job must be re-enqueued")
}

func TestProcessJob_RetryCeilingReached(t *testing.T) {
	store := newMockStore()
	store.putErr = apperrors.Storage("artifact store unavailable")
	queue := &mockQueue{}

	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) { return true, nil },
		retryFunc: func(ctx context.Context, id, errDetail string) (model.JobStatus, error) {
			return model.JobStatusFailed, nil
		},
	}

	runner := newTestRunner(t, repo, queue, store)
	runner.processJob(context.Background(), "job-1")

	assert.Empty(t, queue.enqueued, "failed job must not be re-enqueued")
}

func TestProcessJob_CancelledMidFlightDiscardsBundle(t *testing.T) {
	store := newMockStore()
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc: func(ctx context.Context, id string) (bool, error) { return true, nil },
		completeFunc: func(ctx context.Context, id, resultRef string) (bool, error) {
			// The record was deleted while rendering.
			return false, nil
		},
	}

	runner := newTestRunner(t, repo, &mockQueue{}, store)
	runner.processJob(context.Background(), "job-1")

	assert.Equal(t, []string{"bundle-1.zip"}, store.deleted, "unreachable bundle must be removed")
}

func TestProcessJob_ScratchDirRemoved(t *testing.T) {
	workDir := t.TempDir()
	repo := &mockJobRepo{
		getByIDFunc: func(ctx context.Context, id string) (*model.Job, error) {
			return testJob(t, model.JobStatusPending), nil
		},
		claimFunc:    func(ctx context.Context, id string) (bool, error) { return true, nil },
		completeFunc: func(ctx context.Context, id, resultRef string) (bool, error) { return true, nil },
	}

	runner, err := NewRunner(RunnerOptions{
		Repo:     repo,
		Queue:    &mockQueue{},
		Store:    newMockStore(),
		Renderer: render.NewRegistry(render.RegistryConfig{}),
		Config:   testWorkerConfig(),
		WorkDir:  workDir,
	})
	require.NoError(t, err)

	runner.processJob(context.Background(), "job-1")

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch dir must be removed after processing")
}

func TestCleanStaleWorkDirs(t *testing.T) {
	workDir := t.TempDir()
	stale := filepath.Join(workDir, workDirPrefix+"stale")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	unrelated := filepath.Join(workDir, "keep-me")
	require.NoError(t, os.MkdirAll(unrelated, 0o755))

	runner, err := NewRunner(RunnerOptions{
		Repo:     &mockJobRepo{},
		Queue:    &mockQueue{},
		Store:    newMockStore(),
		Renderer: render.NewRegistry(render.RegistryConfig{}),
		Config:   testWorkerConfig(),
		WorkDir:  workDir,
	})
	require.NoError(t, err)

	runner.cleanStaleWorkDirs(context.Background())

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale scratch dir must be removed")
	_, err = os.Stat(unrelated)
	assert.NoError(t, err, "unrelated dirs must be kept")
}
