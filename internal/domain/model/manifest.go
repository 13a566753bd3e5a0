package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ManifestRequester identifies who asked for the export. Audit only.
type ManifestRequester struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// ManifestArtifact describes one file contained in the bundle.
type ManifestArtifact struct {
	Name   string `json:"name"`
	Format Format `json:"format"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// BundleManifest is the structured record embedded in every produced archive.
// Its encoding must be bit-reproducible: fixed field order, RFC3339 UTC
// timestamps, two-space indentation, trailing newline.
type BundleManifest struct {
	JobID     string             `json:"job_id"`
	Requester ManifestRequester  `json:"requester"`
	Formats   []Format           `json:"formats"`
	CreatedAt time.Time          `json:"created_at"`
	Artifacts []ManifestArtifact `json:"artifacts"`
}

// Encode renders the manifest in its canonical byte form.
func (m *BundleManifest) Encode() ([]byte, error) {
	normalized := *m
	normalized.CreatedAt = m.CreatedAt.UTC().Truncate(time.Second)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&normalized); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeManifest parses a manifest produced by Encode.
func DecodeManifest(raw []byte) (*BundleManifest, error) {
	var m BundleManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
