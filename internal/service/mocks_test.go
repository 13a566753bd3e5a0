package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mstrycker/docexport/internal/domain/model"
)

// mockJobRepo is a mock implementation of core.JobRepository for testing.
type mockJobRepo struct {
	createFunc              func(ctx context.Context, job *model.Job) error
	getByIDFunc             func(ctx context.Context, id string) (*model.Job, error)
	findActiveDuplicateFunc func(ctx context.Context, sessionID, digest string) (*model.Job, error)
	claimFunc               func(ctx context.Context, id string) (bool, error)
	completeFunc            func(ctx context.Context, id, resultRef string) (bool, error)
	failFunc                func(ctx context.Context, id, errDetail string) (bool, error)
	retryFunc               func(ctx context.Context, id, errDetail string) (model.JobStatus, error)
	setProgressFunc         func(ctx context.Context, id string, progress int) error
	failTimedOutFunc        func(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error)
	requeueStalePendingFunc func(ctx context.Context, updatedBefore time.Time, batchSize int) ([]string, error)
	listExpiredFunc         func(ctx context.Context, before time.Time, limit int) ([]*model.Job, error)
	deleteFunc              func(ctx context.Context, id string) (bool, error)
	statsFunc               func(ctx context.Context) (*model.JobStats, error)
}

func (m *mockJobRepo) Create(ctx context.Context, job *model.Job) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, job)
	}
	return errors.New("not implemented")
}

func (m *mockJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) FindActiveDuplicate(ctx context.Context, sessionID, digest string) (*model.Job, error) {
	if m.findActiveDuplicateFunc != nil {
		return m.findActiveDuplicateFunc(ctx, sessionID, digest)
	}
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
	return errors.New("not implemented")
}

func (m *mockJobRepo) FailTimedOut(ctx context.Context, claimedBefore time.Time, batchSize int) (int64, error) {
	if m.failTimedOutFunc != nil {
		return m.failTimedOutFunc(ctx, claimedBefore, batchSize)
	}
	return 0, errors.New("not implemented")
}

func (m *mockJobRepo) RequeueStalePending(ctx context.Context, updatedBefore time.Time, batchSize int) ([]string, error) {
	if m.requeueStalePendingFunc != nil {
		return m.requeueStalePendingFunc(ctx, updatedBefore, batchSize)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
	if m.listExpiredFunc != nil {
		return m.listExpiredFunc(ctx, before, limit)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) Delete(ctx context.Context, id string) (bool, error) {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx)
	}
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
	return "", errors.New("not implemented")
}

// mockStore tracks deletes and serves canned content.
type mockStore struct {
	mu      sync.Mutex
	content map[string]string
	deleted []string
	getErr  error
	delErr  error
}

func newMockStore() *mockStore {
	return &mockStore{content: make(map[string]string)}
}

func (s *mockStore) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *mockStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	content, ok := s.content[ref]
	if !ok {
		return nil, errors.New("artifact not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (s *mockStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	s.deleted = append(s.deleted, ref)
	delete(s.content, ref)
	return nil
}
