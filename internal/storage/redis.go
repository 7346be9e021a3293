package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

// Key layout shared with the ingestion side:
//
//	job:<id>          JSON job record
//	ad:<id>           JSON ad record
//	job_ads:<job_id>  set of ad ids belonging to the job
const (
	jobKeyPrefix    = "job:"
	adKeyPrefix     = "ad:"
	jobAdsKeyPrefix = "job_ads:"
)

// RedisStorage implements Storage interface on Redis JSON records
type RedisStorage struct {
	rdb *redis.Client
}

// NewRedisStorage connects to the Redis instance at cfg.RedisURL
func NewRedisStorage(cfg config.StorageConfig) (*RedisStorage, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStorage{rdb: rdb}, nil
}

// GetPendingAdsByIDs loads the given ads with MGET and keeps pending ones
func (s *RedisStorage) GetPendingAdsByIDs(ctx context.Context, ids []string) ([]models.Ad, error) {
	ads, err := s.loadAds(ctx, uniqueIDs(ids))
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, ads), nil
}

// GetAdsByJob loads every ad listed in the job's member set
func (s *RedisStorage) GetAdsByJob(ctx context.Context, jobID string) ([]models.Ad, error) {
	ids, err := s.rdb.SMembers(ctx, jobAdsKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list ads for job %s: %w", jobID, err)
	}
	return s.loadAds(ctx, ids)
}

// ListPendingAds scans all ad records for pending ones
func (s *RedisStorage) ListPendingAds(ctx context.Context) ([]models.Ad, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, adKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(adKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ads: %w", err)
	}

	ads, err := s.loadAds(ctx, ids)
	if err != nil {
		return nil, err
	}
	pending := make([]models.Ad, 0, len(ads))
	for _, ad := range ads {
		if ad.DownloadStatus == models.DownloadStatusPending {
			pending = append(pending, ad)
		}
	}
	return pending, nil
}

func (s *RedisStorage) loadAds(ctx context.Context, ids []string) ([]models.Ad, error) {
	ads := make([]models.Ad, 0, len(ids))
	if len(ids) == 0 {
		return ads, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = adKeyPrefix + id
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ads: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // missing key
		}
		var ad models.Ad
		if err := json.Unmarshal([]byte(raw), &ad); err != nil {
			return nil, fmt.Errorf("failed to decode ad %s: %w", ids[i], err)
		}
		ads = append(ads, ad)
	}
	return ads, nil
}

// GetJob retrieves a job by ID
func (s *RedisStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	data, err := s.rdb.Get(ctx, jobKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateAd writes the download fields of one ad
func (s *RedisStorage) UpdateAd(ctx context.Context, id string, update models.AdUpdate) error {
	return s.updatePartial(ctx, adKeyPrefix+id, "ad "+id, func(raw []byte) (any, error) {
		var ad models.Ad
		if err := json.Unmarshal(raw, &ad); err != nil {
			return nil, err
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
		return &ad, nil
	})
}

// UpdateJobProgress writes the aggregate counters of one job
func (s *RedisStorage) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	return s.updatePartial(ctx, jobKeyPrefix+id, "job "+id, func(raw []byte) (any, error) {
		var job models.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, err
		}
		job.TotalCount = progress.TotalCount
		job.DownloadedCount = progress.DownloadedCount
		job.Status = progress.Status
		job.UpdatedAt = time.Now().UTC()
		return &job, nil
	})
}

// updatePartial rewrites one JSON record under WATCH, retrying when another
// writer touched the key in between.
func (s *RedisStorage) updatePartial(ctx context.Context, key, label string, mutate func([]byte) (any, error)) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%s: %w", label, ErrNotFound)
			}
			return err
		}
		record, err := mutate(data)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to update %s: %w", label, err)
		}
		return err
	}
	return fmt.Errorf("failed to update %s: too many concurrent writers", label)
}

// Close closes the Redis client
func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
