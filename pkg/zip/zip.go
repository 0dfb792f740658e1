package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"
)

// Asset is one archive entry.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets writes assets in the given order. Every entry carries the
// same modification time, so identical inputs yield identical bytes.
func ArchiveAssets(assets []Asset, modified time.Time) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		if asset.Filename == "" {
			return nil, fmt.Errorf("zip: entry without filename")
		}
		if _, dup := seen[asset.Filename]; dup {
			return nil, fmt.Errorf("zip: duplicate entry %q", asset.Filename)
		}
		seen[asset.Filename] = struct{}{}

		hdr := &zip.FileHeader{
			Name:     asset.Filename,
			Method:   zip.Deflate,
			Modified: modified.UTC(),
		}
		if asset.MIME != "" {
			hdr.Comment = asset.MIME
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}
