package objectstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

// MaxObjectSize mirrors the bucket file size limit for ad media
const MaxObjectSize = 50 * 1024 * 1024

// Store uploads media blobs and hands back stable retrieval URLs.
// Uploading the same path twice overwrites the earlier blob.
type Store interface {
	Upload(ctx context.Context, localPath, storagePath, contentType string) (*models.UploadResult, error)
	EnsureBucket(ctx context.Context) error
}

// UploadError reports a failed object store write
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// New creates the object store selected by configuration
func New(cfg config.ObjectStoreConfig) (Store, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported object store type: %s", cfg.Type)
	}
}

// openForUpload opens a local file and enforces the object size limit
func openForUpload(localPath, storagePath string) (*os.File, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, &UploadError{Path: storagePath, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &UploadError{Path: storagePath, Err: err}
	}
	if info.Size() > MaxObjectSize {
		f.Close()
		return nil, &UploadError{
			Path: storagePath,
			Err:  fmt.Errorf("file size %d exceeds limit of %d bytes", info.Size(), MaxObjectSize),
		}
	}
	return f, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
