package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// extByContentType maps the artifact content types the pipeline produces to
// file extensions. Unknown types fall back to .bin.
var extByContentType = map[string]string{
	"application/zip": ".zip",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
}

// FSArtifactStore stores artifacts as flat files under a root directory. The
// artifact reference is the generated file name; it never contains path
// separators, so a reference cannot escape the root.
type FSArtifactStore struct {
	root   string
	logger *slog.Logger
}

// FSArtifactStoreConfig holds configuration options for the artifact store.
type FSArtifactStoreConfig struct {
	Logger *slog.Logger
}

// NewFSArtifactStore creates the root directory if needed and returns a store
// rooted there.
func NewFSArtifactStore(root string, cfg FSArtifactStoreConfig) (*FSArtifactStore, error) {
	if root == "" {
		return nil, errors.New("artifact store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store root: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FSArtifactStore{
		root:   root,
		logger: logger.With("component", "artifact_store"),
	}, nil
}

// Put writes the stream to a new file and returns its reference. The write
// goes to a temp file first and is renamed into place so a crashed write
// never leaves a partial artifact under a valid reference.
func (s *FSArtifactStore) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext, ok := extByContentType[contentType]
	if !ok {
		ext = ".bin"
	}
	ref := uuid.NewString() + ext

	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create artifact temp file")
	}
	tmpName := tmp.Name()

	if _, copyErr := io.Copy(tmp, r); copyErr != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", apperrors.Wrap(copyErr, apperrors.ErrCodeStorage, "write artifact")
	}
	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmpName)
		return "", apperrors.Wrap(closeErr, apperrors.ErrCodeStorage, "flush artifact")
	}
	if renameErr := os.Rename(tmpName, filepath.Join(s.root, ref)); renameErr != nil {
		os.Remove(tmpName)
		return "", apperrors.Wrap(renameErr, apperrors.ErrCodeStorage, "publish artifact")
	}

	return ref, nil
}

// Get opens the artifact for streaming. The caller owns the ReadCloser.
func (s *FSArtifactStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.refPath(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFoundf("artifact %s not found", ref)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorage, "open artifact")
	}
	return f, nil
}

// Delete removes the artifact. A missing file is not an error; deletion is
// retried by the sweeper and must be idempotent.
func (s *FSArtifactStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.refPath(ref)
	if err != nil {
		return err
	}

	if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return apperrors.Wrap(removeErr, apperrors.ErrCodeStorage, "delete artifact")
	}
	return nil
}

func (s *FSArtifactStore) refPath(ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || ref != filepath.Base(ref) {
		return "", apperrors.Validationf("invalid artifact reference %q", ref)
	}
	return filepath.Join(s.root, ref), nil
}
