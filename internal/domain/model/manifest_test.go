package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() BundleManifest {
	return BundleManifest{
		JobID:     "job-1",
		Requester: ManifestRequester{SessionID: "sess-1", UserID: "user-1"},
		Formats:   []Format{FormatDOCX, FormatTXT},
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793, time.FixedZone("CET", 3600)),
		Artifacts: []ManifestArtifact{
			{Name: "report.docx", Format: FormatDOCX, Size: 1234, SHA256: "abc"},
			{Name: "report.txt", Format: FormatTXT, Size: 56, SHA256: "def"},
		},
	}
}

func TestManifestEncode(t *testing.T) {
	m := sampleManifest()

	raw, err := m.Encode()
	require.NoError(t, err)

	s := string(raw)
	assert.True(t, strings.HasSuffix(s, "\n"), "canonical encoding ends with a newline")
	assert.Contains(t, s, `"created_at": "2026-03-14T08:26:53Z"`, "timestamps are UTC at second precision")

	// Field order is fixed by the struct definition.
	assert.Less(t, strings.Index(s, `"job_id"`), strings.Index(s, `"requester"`))
	assert.Less(t, strings.Index(s, `"requester"`), strings.Index(s, `"formats"`))
	assert.Less(t, strings.Index(s, `"formats"`), strings.Index(s, `"created_at"`))
	assert.Less(t, strings.Index(s, `"created_at"`), strings.Index(s, `"artifacts"`))
}

func TestManifestEncodeReproducible(t *testing.T) {
	a := sampleManifest()
	b := sampleManifest()
	// Same instant in a different zone must not change the bytes.
	b.CreatedAt = b.CreatedAt.UTC()

	rawA, err := a.Encode()
	require.NoError(t, err)
	rawB, err := b.Encode()
	require.NoError(t, err)

	assert.Equal(t, rawA, rawB)
}

func TestManifestDecodeRoundTrip(t *testing.T) {
	m := sampleManifest()
	raw, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeManifest(raw)
	require.NoError(t, err)
	assert.Equal(t, m.JobID, got.JobID)
	assert.Equal(t, m.Requester, got.Requester)
	assert.Equal(t, m.Formats, got.Formats)
	assert.Equal(t, m.Artifacts, got.Artifacts)
	assert.True(t, got.CreatedAt.Equal(m.CreatedAt.Truncate(time.Second)))

	_, err = DecodeManifest([]byte("{not json"))
	assert.Error(t, err)
}
