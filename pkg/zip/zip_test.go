package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveAssetsIsDeterministic(t *testing.T) {
	modified := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	assets := []Asset{
		{Filename: "summary.json", MIME: "application/json", Data: []byte(`{"ok":true}`)},
		{Filename: "conversations/001_a.json", Data: []byte(`{}`)},
	}

	first, err := ArchiveAssets(assets, modified)
	require.NoError(t, err)
	second, err := ArchiveAssets(assets, modified)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	zr, err := zip.NewReader(bytes.NewReader(first), int64(len(first)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "summary.json", zr.File[0].Name)
	assert.True(t, zr.File[0].Modified.Equal(modified))

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestArchiveAssetsRejectsBadEntries(t *testing.T) {
	_, err := ArchiveAssets([]Asset{{Filename: ""}}, time.Time{})
	assert.Error(t, err)
	_, err = ArchiveAssets([]Asset{{Filename: "a"}, {Filename: "a"}}, time.Time{})
	assert.Error(t, err)
}
