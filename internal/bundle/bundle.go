// Package bundle assembles rendered artifacts into the final archive.
package bundle

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// Input describes one rendered artifact to include in the bundle.
type Input struct {
	Path   string
	Format model.Format
}

// Request carries everything needed to assemble one job's bundle.
type Request struct {
	JobID     string
	SessionID string
	UserID    *string
	Formats   []model.Format
	Inputs    []Input
	CreatedAt time.Time
}

// Build writes <job_id>_export.zip into dir, containing every rendered
// artifact plus manifest.json. The manifest records a sha256 checksum per
// artifact and is encoded canonically, so the same inputs always produce
// byte-identical manifests.
func Build(ctx context.Context, req Request, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	artifacts, err := describeInputs(req.Inputs)
	if err != nil {
		return "", err
	}

	manifest := model.BundleManifest{
		JobID:     req.JobID,
		Requester: model.ManifestRequester{SessionID: req.SessionID},
		Formats:   req.Formats,
		CreatedAt: req.CreatedAt,
		Artifacts: artifacts,
	}
	if req.UserID != nil {
		manifest.Requester.UserID = *req.UserID
	}
	encoded, err := manifest.Encode()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode bundle manifest")
	}

	zipPath := filepath.Join(dir, req.JobID+"_export.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create bundle archive")
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, in := range req.Inputs {
		if addErr := addFile(zw, in.Path); addErr != nil {
			return "", addErr
		}
	}
	mw, err := zw.Create("manifest.json")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create manifest entry")
	}
	if _, writeErr := mw.Write(encoded); writeErr != nil {
		return "", apperrors.Wrap(writeErr, apperrors.ErrCodeStorage, "write manifest entry")
	}
	if closeErr := zw.Close(); closeErr != nil {
		return "", apperrors.Wrap(closeErr, apperrors.ErrCodeStorage, "finalize bundle archive")
	}
	if syncErr := f.Close(); syncErr != nil {
		return "", apperrors.Wrap(syncErr, apperrors.ErrCodeStorage, "close bundle archive")
	}
	return zipPath, nil
}

func describeInputs(inputs []Input) ([]model.ManifestArtifact, error) {
	artifacts := make([]model.ManifestArtifact, 0, len(inputs))
	for _, in := range inputs {
		size, sum, err := fileDigest(in.Path)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, model.ManifestArtifact{
			Name:   filepath.Base(in.Path),
			Format: in.Format,
			Size:   size,
			SHA256: sum,
		})
	}
	return artifacts, nil
}

func fileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", apperrors.Wrapf(err, apperrors.ErrCodeStorage, "open artifact %s", filepath.Base(path))
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", apperrors.Wrapf(err, apperrors.ErrCodeStorage, "hash artifact %s", filepath.Base(path))
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorage, "open artifact %s", filepath.Base(path))
	}
	defer f.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorage, "create archive entry %s", filepath.Base(path))
	}
	if _, copyErr := io.Copy(w, f); copyErr != nil {
		return apperrors.Wrapf(copyErr, apperrors.ErrCodeStorage, "write archive entry %s", filepath.Base(path))
	}
	return nil
}
