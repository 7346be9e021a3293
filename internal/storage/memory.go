package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hunyaochong/ads-cloner/internal/models"
)

// MemoryStorage implements Storage in process memory. It backs local
// development runs and tests.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
	ads  map[string]models.Ad
	seq  int
	// order remembers insertion order so listings are stable
	order map[string]int
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:  make(map[string]models.Job),
		ads:   make(map[string]models.Ad),
		order: make(map[string]int),
	}
}

// PutJob inserts or replaces a job row
func (m *MemoryStorage) PutJob(job models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	m.jobs[job.ID] = job
}

// PutAd inserts or replaces an ad row
func (m *MemoryStorage) PutAd(ad models.Ad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now().UTC()
	}
	if _, ok := m.order[ad.ID]; !ok {
		m.seq++
		m.order[ad.ID] = m.seq
	}
	m.ads[ad.ID] = ad
}

// Seed is the file layout read by LoadSeed
type Seed struct {
	Jobs []models.Job `json:"jobs"`
	Ads  []models.Ad  `json:"ads"`
}

// LoadSeed inserts the jobs and ads of a JSON seed file. Ads keep the order
// of the file.
func (m *MemoryStorage) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}
	for _, job := range seed.Jobs {
		m.PutJob(job)
	}
	for _, ad := range seed.Ads {
		if ad.DownloadStatus == "" {
			ad.DownloadStatus = models.DownloadStatusPending
		}
		m.PutAd(ad)
	}
	return nil
}

// Ad returns a copy of one ad row
func (m *MemoryStorage) Ad(id string) (models.Ad, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ad, ok := m.ads[id]
	return ad, ok
}

// GetPendingAdsByIDs returns pending ads for the given ids in request order
func (m *MemoryStorage) GetPendingAdsByIDs(ctx context.Context, ids []string) ([]models.Ad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make([]models.Ad, 0, len(ids))
	for _, id := range uniqueIDs(ids) {
		if ad, ok := m.ads[id]; ok {
			found = append(found, ad)
		}
	}
	return orderByIDs(ids, found), nil
}

// GetAdsByJob returns all ads of a job
func (m *MemoryStorage) GetAdsByJob(ctx context.Context, jobID string) ([]models.Ad, error) {
	return m.filter(func(ad models.Ad) bool { return ad.JobID == jobID }), nil
}

// ListPendingAds returns every ad still waiting for download
func (m *MemoryStorage) ListPendingAds(ctx context.Context) ([]models.Ad, error) {
	return m.filter(func(ad models.Ad) bool {
		return ad.DownloadStatus == models.DownloadStatusPending
	}), nil
}

// GetJob retrieves a job by ID
func (m *MemoryStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

// UpdateAd writes the download fields of one ad
func (m *MemoryStorage) UpdateAd(ctx context.Context, id string, update models.AdUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ad, ok := m.ads[id]
	if !ok {
		return fmt.Errorf("ad %s: %w", id, ErrNotFound)
	}
	ad.DownloadStatus = update.Status
	ad.DownloadError = nullableString(update.Error)
	if update.LocalMediaURL != nil {
		ad.LocalMediaURL = update.LocalMediaURL
	}
	if update.LocalThumbnailURL != nil {
		ad.LocalThumbnailURL = update.LocalThumbnailURL
	}
	ad.UpdatedAt = time.Now().UTC()
	m.ads[id] = ad
	return nil
}

// UpdateJobProgress writes the aggregate counters of one job
func (m *MemoryStorage) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	job.TotalCount = progress.TotalCount
	job.DownloadedCount = progress.DownloadedCount
	job.Status = progress.Status
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}

// Close is a no-op for the in-memory store
func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) filter(keep func(models.Ad) bool) []models.Ad {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Ad, 0)
	for _, ad := range m.ads {
		if keep(ad) {
			out = append(out, ad)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out
}
