package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"talkstudio/internal/domain"
)

// FileStore keeps result archives on the local filesystem. Used in
// development and single-node deployments without object storage.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write stores data under key and returns the cleaned key. The file is
// written to a temp name first so readers never observe a partial archive.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	fullPath, cleanKey, err := s.resolve(ctx, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("storage: publish file: %w", err)
	}
	return cleanKey, nil
}

// Read returns the bytes stored under key, or domain.ErrNotFound.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	fullPath, _, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Delete removes key. Missing keys are not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	fullPath, _, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

func (s *FileStore) resolve(ctx context.Context, key string) (fullPath, cleanKey string, err error) {
	if s == nil {
		return "", "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	cleanKey, err = sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), cleanKey, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(strings.TrimPrefix(key, "./"), "/")
	cleaned := strings.ReplaceAll(filepath.Clean(key), "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ domain.ArchiveStore = (*FileStore)(nil)
