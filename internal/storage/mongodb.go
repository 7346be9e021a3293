package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

// MongoDBStorage implements Storage interface using MongoDB
type MongoDBStorage struct {
	client *mongo.Client
	jobs   *mongo.Collection
	ads    *mongo.Collection
}

// NewMongoDBStorage connects to MongoDB and prepares the collections
func NewMongoDBStorage(cfg config.StorageConfig) (*MongoDBStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	storage := &MongoDBStorage{
		client: client,
		jobs:   db.Collection("scraping_jobs"),
		ads:    db.Collection("ads"),
	}

	_, err = storage.ads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}}},
		{Keys: bson.D{{Key: "download_status", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create ad indexes: %w", err)
	}

	return storage, nil
}

// GetPendingAdsByIDs finds pending ads whose id is in ids
func (s *MongoDBStorage) GetPendingAdsByIDs(ctx context.Context, ids []string) ([]models.Ad, error) {
	ads, err := s.findAds(ctx, bson.M{
		"_id":             bson.M{"$in": uniqueIDs(ids)},
		"download_status": models.DownloadStatusPending,
	})
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, ads), nil
}

// GetAdsByJob finds all ads of a job
func (s *MongoDBStorage) GetAdsByJob(ctx context.Context, jobID string) ([]models.Ad, error) {
	return s.findAds(ctx, bson.M{"job_id": jobID})
}

// ListPendingAds finds every pending ad
func (s *MongoDBStorage) ListPendingAds(ctx context.Context) ([]models.Ad, error) {
	return s.findAds(ctx, bson.M{"download_status": models.DownloadStatusPending})
}

func (s *MongoDBStorage) findAds(ctx context.Context, filter bson.M) ([]models.Ad, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.ads.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find ads: %w", err)
	}
	defer cursor.Close(ctx)

	ads := make([]models.Ad, 0)
	if err := cursor.All(ctx, &ads); err != nil {
		return nil, fmt.Errorf("failed to decode ads: %w", err)
	}
	return ads, nil
}

// GetJob retrieves a job by ID
func (s *MongoDBStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateAd writes the download fields of one ad
func (s *MongoDBStorage) UpdateAd(ctx context.Context, id string, update models.AdUpdate) error {
	result, err := s.ads.UpdateByID(ctx, id, adUpdateDoc(update, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to update ad %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("ad %s: %w", id, ErrNotFound)
	}
	return nil
}

// adUpdateDoc sets the status and any stored URL, and clears download_error
// when the update carries no error.
func adUpdateDoc(update models.AdUpdate, now time.Time) bson.M {
	set := bson.M{
		"download_status": update.Status,
		"updated_at":      now,
	}
	doc := bson.M{"$set": set}
	if update.Error != "" {
		set["download_error"] = update.Error
	} else {
		doc["$unset"] = bson.M{"download_error": ""}
	}
	if update.LocalMediaURL != nil {
		set["local_media_url"] = *update.LocalMediaURL
	}
	if update.LocalThumbnailURL != nil {
		set["local_thumbnail_url"] = *update.LocalThumbnailURL
	}
	return doc
}

// UpdateJobProgress writes the aggregate counters of one job
func (s *MongoDBStorage) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	result, err := s.jobs.UpdateByID(ctx, id, jobProgressDoc(progress, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func jobProgressDoc(progress models.JobProgress, now time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"total_ads":      progress.TotalCount,
		"downloaded_ads": progress.DownloadedCount,
		"status":         progress.Status,
		"updated_at":     now,
	}}
}

// Close disconnects the MongoDB client
func (s *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
