package progress

import (
	"context"
	"fmt"
	"log"

	"github.com/hunyaochong/ads-cloner/internal/models"
	"github.com/hunyaochong/ads-cloner/internal/storage"
)

// Aggregator recomputes job counters from the job's current ad rows
type Aggregator struct {
	store  storage.Storage
	logger *log.Logger
}

// NewAggregator creates a new Aggregator
func NewAggregator(store storage.Storage, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{store: store, logger: logger}
}

// Compute derives job progress from a set of ad rows. The job is completed
// once every ad is terminal, whether it succeeded or not.
func Compute(ads []models.Ad) models.JobProgress {
	p := models.JobProgress{TotalCount: len(ads)}
	terminal := 0
	for _, ad := range ads {
		if ad.DownloadStatus.IsTerminal() {
			terminal++
		}
		switch ad.DownloadStatus {
		case models.DownloadStatusCompleted:
			p.DownloadedCount++
		case models.DownloadStatusFailed:
			p.FailedCount++
		}
	}

	if terminal == p.TotalCount {
		p.Status = models.JobStatusCompleted
	} else {
		p.Status = models.JobStatusDownloading
	}
	return p
}

// Recompute reads all ads of jobID, writes the derived counters and status
// to the job row and returns them.
func (a *Aggregator) Recompute(ctx context.Context, jobID string) (*models.JobProgress, error) {
	ads, err := a.store.GetAdsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ads for job %s: %w", jobID, err)
	}

	p := Compute(ads)
	if err := a.store.UpdateJobProgress(ctx, jobID, p); err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", jobID, err)
	}

	a.logger.Printf("[JOB %s] Progress: %d/%d downloaded, %d failed, status=%s",
		jobID, p.DownloadedCount, p.TotalCount, p.FailedCount, p.Status)
	return &p, nil
}
