package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(config.StorageConfig{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func putRedisAd(t *testing.T, mr *miniredis.Miniredis, ad models.Ad) {
	t.Helper()
	data, err := json.Marshal(ad)
	require.NoError(t, err)
	require.NoError(t, mr.Set(adKeyPrefix+ad.ID, string(data)))
	_, err = mr.SAdd(jobAdsKeyPrefix+ad.JobID, ad.ID)
	require.NoError(t, err)
}

func redisAd(t *testing.T, mr *miniredis.Miniredis, id string) models.Ad {
	t.Helper()
	raw, err := mr.Get(adKeyPrefix + id)
	require.NoError(t, err)
	var ad models.Ad
	require.NoError(t, json.Unmarshal([]byte(raw), &ad))
	return ad
}

func strPtr(s string) *string { return &s }

func testAd(id, jobID string, status models.DownloadStatus) models.Ad {
	return models.Ad{
		ID:             id,
		JobID:          jobID,
		ArchiveID:      "arch-" + id,
		MediaURL:       "https://media.test/" + id,
		MediaType:      models.MediaTypeImage,
		DownloadStatus: status,
	}
}

func TestRedisStorage_GetPendingAdsByIDs(t *testing.T) {
	s, mr := newTestRedis(t)
	putRedisAd(t, mr, testAd("a1", "job-1", models.DownloadStatusPending))
	putRedisAd(t, mr, testAd("a2", "job-1", models.DownloadStatusCompleted))
	putRedisAd(t, mr, testAd("a3", "job-1", models.DownloadStatusPending))

	ads, err := s.GetPendingAdsByIDs(context.Background(), []string{"a3", "missing", "a2", "a1", "a3"})
	require.NoError(t, err)
	require.Len(t, ads, 2)
	assert.Equal(t, "a3", ads[0].ID)
	assert.Equal(t, "a1", ads[1].ID)
}

func TestRedisStorage_GetAdsByJobAndListPending(t *testing.T) {
	s, mr := newTestRedis(t)
	putRedisAd(t, mr, testAd("a1", "job-1", models.DownloadStatusPending))
	putRedisAd(t, mr, testAd("a2", "job-1", models.DownloadStatusFailed))
	putRedisAd(t, mr, testAd("b1", "job-2", models.DownloadStatusPending))

	ads, err := s.GetAdsByJob(context.Background(), "job-1")
	require.NoError(t, err)
	ids := []string{}
	for _, ad := range ads {
		ids = append(ids, ad.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)

	pending, err := s.ListPendingAds(context.Background())
	require.NoError(t, err)
	ids = ids[:0]
	for _, ad := range pending {
		ids = append(ids, ad.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "b1"}, ids)

	none, err := s.GetAdsByJob(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRedisStorage_UpdateAd(t *testing.T) {
	s, mr := newTestRedis(t)
	ad := testAd("a1", "job-1", models.DownloadStatusPending)
	ad.DownloadError = strPtr("old failure")
	putRedisAd(t, mr, ad)
	mr.SetTTL(adKeyPrefix+"a1", time.Hour)

	media := "https://cdn.test/job-1/media/arch-a1.jpg"
	err := s.UpdateAd(context.Background(), "a1", models.AdUpdate{
		Status:        models.DownloadStatusCompleted,
		LocalMediaURL: &media,
	})
	require.NoError(t, err)

	got := redisAd(t, mr, "a1")
	assert.Equal(t, models.DownloadStatusCompleted, got.DownloadStatus)
	assert.Nil(t, got.DownloadError)
	require.NotNil(t, got.LocalMediaURL)
	assert.Equal(t, media, *got.LocalMediaURL)
	assert.Equal(t, "arch-a1", got.ArchiveID)
	assert.Equal(t, time.Hour, mr.TTL(adKeyPrefix+"a1"))

	err = s.UpdateAd(context.Background(), "missing", models.AdUpdate{Status: models.DownloadStatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorage_UpdatePartialRetriesOnConcurrentWrite(t *testing.T) {
	s, mr := newTestRedis(t)
	putRedisAd(t, mr, testAd("a1", "job-1", models.DownloadStatusPending))

	ctx := context.Background()
	attempts := 0
	err := s.updatePartial(ctx, adKeyPrefix+"a1", "ad a1", func(raw []byte) (any, error) {
		attempts++
		var ad models.Ad
		if err := json.Unmarshal(raw, &ad); err != nil {
			return nil, err
		}
		if attempts == 1 {
			// another writer changes the record inside the watch window
			other := ad
			other.PageName = "Concurrent Page"
			data, err := json.Marshal(other)
			require.NoError(t, err)
			require.NoError(t, s.rdb.Set(ctx, adKeyPrefix+"a1", data, 0).Err())
		}
		ad.DownloadStatus = models.DownloadStatusDownloading
		return &ad, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	got := redisAd(t, mr, "a1")
	assert.Equal(t, models.DownloadStatusDownloading, got.DownloadStatus)
	assert.Equal(t, "Concurrent Page", got.PageName)
}

func TestRedisStorage_Jobs(t *testing.T) {
	s, mr := newTestRedis(t)
	data, err := json.Marshal(models.Job{ID: "job-1", Status: models.JobStatusDownloading})
	require.NoError(t, err)
	require.NoError(t, mr.Set(jobKeyPrefix+"job-1", string(data)))

	err = s.UpdateJobProgress(context.Background(), "job-1", models.JobProgress{
		TotalCount: 3, DownloadedCount: 2, FailedCount: 1, Status: models.JobStatusCompleted,
	})
	require.NoError(t, err)

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 3, job.TotalCount)
	assert.Equal(t, 2, job.DownloadedCount)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	missing, err := s.GetJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.UpdateJobProgress(context.Background(), "missing", models.JobProgress{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStorage_BadURL(t *testing.T) {
	_, err := NewRedisStorage(config.StorageConfig{RedisURL: "://nope"})
	assert.Error(t, err)
}
