package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hunyaochong/ads-cloner/internal/models"
)

// LocalMediaRoute is where the API serves files of the local store
const LocalMediaRoute = "/media"

// LocalStore implements Store for the local filesystem
type LocalStore struct {
	BaseDir string
	baseURL string
}

// NewLocalStore creates a new LocalStore instance. An empty baseURL makes
// retrieval URLs relative to the API's media route.
func NewLocalStore(baseDir, baseURL string) *LocalStore {
	if baseURL == "" {
		baseURL = LocalMediaRoute
	} else {
		baseURL = joinURL(baseURL, LocalMediaRoute)
	}
	return &LocalStore{BaseDir: baseDir, baseURL: baseURL}
}

// EnsureBucket creates the base directory
func (s *LocalStore) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", s.BaseDir, err)
	}
	return nil
}

// Upload copies the local file under BaseDir, replacing any existing file
func (s *LocalStore) Upload(ctx context.Context, localPath, storagePath, contentType string) (*models.UploadResult, error) {
	dest, err := s.resolve(storagePath)
	if err != nil {
		return nil, &UploadError{Path: storagePath, Err: err}
	}

	src, err := openForUpload(localPath, storagePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, &UploadError{Path: storagePath, Err: err}
	}

	// write to a sibling temp file so readers never see a partial blob
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return nil, &UploadError{Path: storagePath, Err: err}
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, &UploadError{Path: storagePath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, &UploadError{Path: storagePath, Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return nil, &UploadError{Path: storagePath, Err: err}
	}

	return &models.UploadResult{
		StoragePath: storagePath,
		PublicURL:   joinURL(s.baseURL, storagePath),
	}, nil
}

func (s *LocalStore) resolve(storagePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(storagePath))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid storage path %q", storagePath)
	}
	return filepath.Join(s.BaseDir, clean), nil
}
