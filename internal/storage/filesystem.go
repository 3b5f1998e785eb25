package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"server/internal/domain"
)

// ObjectStore is the object-storage collaborator contract: put bytes under a
// key, get a public URL back; read them back by key or public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, keyOrURL string) ([]byte, error)
}

// FileStore persists artifacts onto the local filesystem and serves them
// under a public base URL. It is intended for single-instance deployments
// where an object storage service is not available.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath, publishing under
// baseURL.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put persists the provided bytes at the given relative key and returns the
// public URL. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: no store configured", domain.ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: ensure directory: %v", domain.ErrStorage, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write file: %v", domain.ErrStorage, err)
	}
	return s.baseURL + "/" + cleanKey, nil
}

// Get reads bytes back by storage key or by the public URL Put returned.
func (s *FileStore) Get(ctx context.Context, keyOrURL string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no store configured", domain.ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := keyOrURL
	if s.baseURL != "" && strings.HasPrefix(keyOrURL, s.baseURL+"/") {
		key = strings.TrimPrefix(keyOrURL, s.baseURL+"/")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: read file: %v", domain.ErrStorage, err)
	}
	return data, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ObjectStore = (*FileStore)(nil)
