// Package data implements the persistence layer: the Postgres job store and
// the filesystem artifact store.
package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mstrycker/docexport/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for export job management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  status,
  session_id,
  user_id,
  formats,
  payload,
  payload_digest,
  result_ref,
  error_detail,
  progress,
  download_code,
  retry_count,
  max_retries,
  claimed_at,
  created_at,
  updated_at,
  expires_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner jobRowScanner) (*model.Job, error) {
	var (
		job                  model.Job
		formats              []byte
		payload              []byte
		userID               sql.NullString
		resultRef, errDetail sql.NullString
		downloadCode         sql.NullString
		claimedAt            sql.NullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Status,
		&job.SessionID,
		&userID,
		&formats,
		&payload,
		&job.PayloadDigest,
		&resultRef,
		&errDetail,
		&job.Progress,
		&downloadCode,
		&job.RetryCount,
		&job.MaxRetries,
		&claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ExpiresAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(formats, &job.Formats); err != nil {
		return nil, fmt.Errorf("decode formats column: %w", err)
	}
	job.Payload = append(json.RawMessage(nil), payload...)
	job.UserID = nullableString(userID)
	job.ResultRef = nullableString(resultRef)
	job.ErrorDetail = nullableString(errDetail)
	job.DownloadCode = nullableString(downloadCode)
	job.ClaimedAt = nullableTime(claimedAt)

	return &job, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
