package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hunyaochong/ads-cloner/internal/fetcher"
	"github.com/hunyaochong/ads-cloner/internal/models"
	"github.com/hunyaochong/ads-cloner/internal/objectstore"
)

const thumbnailContentType = "image/jpeg"

// ErrWorkspace is returned when the per-ad temporary workspace cannot be created
var ErrWorkspace = errors.New("failed to create workspace")

// Pipeline fetches the assets of one ad and stores them in the object store
type Pipeline struct {
	fetcher fetcher.Fetcher
	store   objectstore.Store
	tempDir string
	logger  *log.Logger
}

// New creates a new Pipeline. Workspaces are created below tempDir.
func New(f fetcher.Fetcher, store objectstore.Store, tempDir string, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		fetcher: f,
		store:   store,
		tempDir: tempDir,
		logger:  logger,
	}
}

// Process runs the media step and, for videos with a preview, the thumbnail
// step. Fetch and upload failures are recorded in the outcome; only a
// workspace failure is returned as an error.
func (p *Pipeline) Process(ctx context.Context, ad models.Ad) (*models.Outcome, error) {
	workspace, err := p.workspace(ad)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrWorkspace, workspace, err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			p.logger.Printf("[AD %s] Failed to remove workspace %s: %v", ad.ArchiveID, workspace, err)
		}
	}()

	outcome := &models.Outcome{}

	p.logger.Printf("[AD %s] Downloading %s media", ad.ArchiveID, ad.MediaType)
	outcome.Media = p.transfer(ctx, ad, "Media", step{
		sourceURL:   ad.MediaURL,
		localPath:   filepath.Join(workspace, MediaFilename(ad)),
		storagePath: MediaPath(ad),
		contentType: ad.MediaType.ContentType(),
	}, outcome)

	if previewURL, ok := ad.ThumbnailSource(); ok {
		p.logger.Printf("[AD %s] Downloading thumbnail", ad.ArchiveID)
		outcome.Thumbnail = p.transfer(ctx, ad, "Thumbnail", step{
			sourceURL:   previewURL,
			localPath:   filepath.Join(workspace, ThumbnailFilename(ad)),
			storagePath: ThumbnailPath(ad),
			contentType: thumbnailContentType,
		}, outcome)
	}

	return outcome, nil
}

// workspace resolves the per-ad directory below tempDir. Job and ad ids must
// each be a single path element so that the deferred cleanup cannot reach
// tempDir itself or anything outside it.
func (p *Pipeline) workspace(ad models.Ad) (string, error) {
	for _, id := range []string{ad.JobID, ad.ID} {
		if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
			return "", fmt.Errorf("%w: invalid id %q for ad %s", ErrWorkspace, id, ad.ArchiveID)
		}
	}

	root := filepath.Clean(p.tempDir)
	workspace := filepath.Join(root, ad.JobID, ad.ID)
	rel, err := filepath.Rel(root, workspace)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s escapes %s", ErrWorkspace, workspace, root)
	}
	return workspace, nil
}

type step struct {
	sourceURL   string
	localPath   string
	storagePath string
	contentType string
}

// transfer fetches one asset and uploads it, appending any failure to
// outcome.Errors. The local file is removed whatever the upload result.
func (p *Pipeline) transfer(ctx context.Context, ad models.Ad, label string, s step, outcome *models.Outcome) *models.UploadResult {
	if err := p.fetcher.Fetch(ctx, s.sourceURL, s.localPath); err != nil {
		p.logger.Printf("[AD %s] %s download failed: %v", ad.ArchiveID, label, err)
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s download failed: %v", label, err))
		return nil
	}
	defer os.Remove(s.localPath)

	result, err := p.store.Upload(ctx, s.localPath, s.storagePath, s.contentType)
	if err != nil {
		p.logger.Printf("[AD %s] %s upload failed: %v", ad.ArchiveID, label, err)
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s upload failed: %v", label, err))
		return nil
	}

	p.logger.Printf("[AD %s] %s uploaded to %s", ad.ArchiveID, label, result.StoragePath)
	return result
}
