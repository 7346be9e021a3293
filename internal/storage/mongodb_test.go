package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/hunyaochong/ads-cloner/internal/models"
)

func TestAdUpdateDoc(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	media := "https://cdn.test/job-1/media/111.jpg"

	doc := adUpdateDoc(models.AdUpdate{Status: models.DownloadStatusCompleted, LocalMediaURL: &media}, now)
	assert.Equal(t, bson.M{
		"$set": bson.M{
			"download_status": models.DownloadStatusCompleted,
			"updated_at":      now,
			"local_media_url": media,
		},
		"$unset": bson.M{"download_error": ""},
	}, doc)

	doc = adUpdateDoc(models.AdUpdate{Status: models.DownloadStatusFailed, Error: "Media download failed: 404"}, now)
	assert.Equal(t, bson.M{
		"$set": bson.M{
			"download_status": models.DownloadStatusFailed,
			"updated_at":      now,
			"download_error":  "Media download failed: 404",
		},
	}, doc)
}

func TestJobProgressDoc(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := jobProgressDoc(models.JobProgress{TotalCount: 3, DownloadedCount: 2, FailedCount: 1, Status: models.JobStatusCompleted}, now)

	assert.Equal(t, bson.M{"$set": bson.M{
		"total_ads":      3,
		"downloaded_ads": 2,
		"status":         models.JobStatusCompleted,
		"updated_at":     now,
	}}, doc)
}

func adDoc(id, status string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "job_id", Value: "job-1"},
		{Key: "ad_archive_id", Value: "arch-" + id},
		{Key: "media_url", Value: "https://media.test/" + id},
		{Key: "media_type", Value: "image"},
		{Key: "download_status", Value: status},
	}
}

func TestMongoDBStorage(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	newStore := func(mt *mtest.T) *MongoDBStorage {
		return &MongoDBStorage{client: mt.Client, jobs: mt.Coll, ads: mt.Coll}
	}

	mt.Run("pending ads follow request order", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ads_cloner.ads", mtest.FirstBatch,
			adDoc("a1", "pending"),
			adDoc("a3", "pending"),
		))

		ads, err := newStore(mt).GetPendingAdsByIDs(context.Background(), []string{"a3", "a2", "a1", "a3"})
		require.NoError(mt, err)
		require.Len(mt, ads, 2)
		assert.Equal(mt, "a3", ads[0].ID)
		assert.Equal(mt, "a1", ads[1].ID)
		assert.Equal(mt, models.MediaTypeImage, ads[1].MediaType)
	})

	mt.Run("missing job", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ads_cloner.scraping_jobs", mtest.FirstBatch))

		job, err := newStore(mt).GetJob(context.Background(), "missing")
		require.NoError(mt, err)
		assert.Nil(mt, job)
	})

	mt.Run("update of missing ad", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := newStore(mt).UpdateAd(context.Background(), "missing", models.AdUpdate{Status: models.DownloadStatusDownloading})
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("update of existing ad", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		err := newStore(mt).UpdateAd(context.Background(), "a1", models.AdUpdate{Status: models.DownloadStatusCompleted})
		assert.NoError(mt, err)
	})

	mt.Run("job progress of missing job", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := newStore(mt).UpdateJobProgress(context.Background(), "missing", models.JobProgress{Status: models.JobStatusCompleted})
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}
