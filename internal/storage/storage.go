package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

// ErrNotFound is returned by updates addressed to a row that does not exist
var ErrNotFound = errors.New("record not found")

// Storage interface defines the record store contract for jobs and ads
type Storage interface {
	// GetPendingAdsByIDs returns the rows among ids that are still pending,
	// in the order of ids and without duplicates.
	GetPendingAdsByIDs(ctx context.Context, ids []string) ([]models.Ad, error)
	GetAdsByJob(ctx context.Context, jobID string) ([]models.Ad, error)
	ListPendingAds(ctx context.Context) ([]models.Ad, error)
	// GetJob returns nil, nil when the job does not exist.
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateAd(ctx context.Context, id string, update models.AdUpdate) error
	UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		m := NewMemoryStorage()
		if cfg.SeedFile != "" {
			if err := m.LoadSeed(cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		return m, nil
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(cfg)
	case "postgresql":
		return NewPostgreSQLStorage(cfg)
	case "redis":
		return NewRedisStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// orderByIDs keeps the pending rows among ads and sorts them in the order of
// ids, dropping repeated ids.
func orderByIDs(ids []string, ads []models.Ad) []models.Ad {
	byID := make(map[string]models.Ad, len(ads))
	for _, ad := range ads {
		if ad.DownloadStatus == models.DownloadStatusPending {
			byID[ad.ID] = ad
		}
	}

	ordered := make([]models.Ad, 0, len(byID))
	for _, id := range ids {
		ad, ok := byID[id]
		if !ok {
			continue
		}
		ordered = append(ordered, ad)
		delete(byID, id)
	}
	return ordered
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
