package models

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a scraping job
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusScraping    JobStatus = "scraping"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// DownloadStatus is the per-ad media download state
type DownloadStatus string

const (
	DownloadStatusPending     DownloadStatus = "pending"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
)

// IsTerminal reports whether no further download work is expected for the ad
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadStatusCompleted || s == DownloadStatusFailed
}

// MediaType is the kind of the main media asset of an ad
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Extension returns the file extension used for the main media asset
func (m MediaType) Extension() string {
	if m == MediaTypeVideo {
		return "mp4"
	}
	return "jpg"
}

// ContentType returns the content type the main media asset is stored with
func (m MediaType) ContentType() string {
	if m == MediaTypeVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// Job represents one scraping/download campaign
type Job struct {
	ID              string    `json:"id" bson:"_id" dynamodbav:"id"`
	URL             string    `json:"url,omitempty" bson:"url,omitempty" dynamodbav:"url,omitempty"`
	Status          JobStatus `json:"status" bson:"status" dynamodbav:"status"`
	TotalCount      int       `json:"total_ads" bson:"total_ads" dynamodbav:"total_ads"`
	DownloadedCount int       `json:"downloaded_ads" bson:"downloaded_ads" dynamodbav:"downloaded_ads"`
	ErrorMessage    *string   `json:"error_message,omitempty" bson:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at" dynamodbav:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at" dynamodbav:"updated_at"`
}

// Ad is one scraped media item belonging to a job
type Ad struct {
	ID                string         `json:"id" bson:"_id" dynamodbav:"id"`
	JobID             string         `json:"job_id" bson:"job_id" dynamodbav:"job_id"`
	ArchiveID         string         `json:"ad_archive_id" bson:"ad_archive_id" dynamodbav:"ad_archive_id"`
	PageName          string         `json:"page_name,omitempty" bson:"page_name,omitempty" dynamodbav:"page_name,omitempty"`
	MediaURL          string         `json:"media_url" bson:"media_url" dynamodbav:"media_url"`
	MediaType         MediaType      `json:"media_type" bson:"media_type" dynamodbav:"media_type"`
	PreviewImageURL   *string        `json:"preview_image_url,omitempty" bson:"preview_image_url,omitempty" dynamodbav:"preview_image_url,omitempty"`
	DownloadStatus    DownloadStatus `json:"download_status" bson:"download_status" dynamodbav:"download_status"`
	DownloadError     *string        `json:"download_error,omitempty" bson:"download_error,omitempty" dynamodbav:"download_error,omitempty"`
	LocalMediaURL     *string        `json:"local_media_url,omitempty" bson:"local_media_url,omitempty" dynamodbav:"local_media_url,omitempty"`
	LocalThumbnailURL *string        `json:"local_thumbnail_url,omitempty" bson:"local_thumbnail_url,omitempty" dynamodbav:"local_thumbnail_url,omitempty"`
	CreatedAt         time.Time      `json:"created_at" bson:"created_at" dynamodbav:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" bson:"updated_at" dynamodbav:"updated_at"`
}

// ThumbnailSource returns the preview URL when the ad is eligible for a
// thumbnail step. Images never are, whatever the preview field holds.
func (a Ad) ThumbnailSource() (string, bool) {
	if a.MediaType != MediaTypeVideo || a.PreviewImageURL == nil {
		return "", false
	}
	u := strings.TrimSpace(*a.PreviewImageURL)
	if u == "" {
		return "", false
	}
	return u, true
}

// AdUpdate holds the mutable download fields written back for one ad.
// An empty Error clears download_error; nil URLs leave the stored value untouched.
type AdUpdate struct {
	Status            DownloadStatus
	Error             string
	LocalMediaURL     *string
	LocalThumbnailURL *string
}

// JobProgress is the aggregate written back to a job row
type JobProgress struct {
	TotalCount      int       `json:"total_ads"`
	DownloadedCount int       `json:"downloaded_ads"`
	FailedCount     int       `json:"failed_ads"`
	Status          JobStatus `json:"status"`
}

// UploadResult describes a blob stored in the object store
type UploadResult struct {
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
}

// Outcome is the result of running the asset pipeline for one ad
type Outcome struct {
	Media     *UploadResult `json:"media"`
	Thumbnail *UploadResult `json:"thumbnail"`
	Errors    []string      `json:"errors"`
}

// Succeeded reports whether every attempted step completed
func (o *Outcome) Succeeded() bool {
	return o != nil && len(o.Errors) == 0
}

// ErrorMessage joins the recorded step errors
func (o *Outcome) ErrorMessage() string {
	if o == nil {
		return ""
	}
	return strings.Join(o.Errors, "; ")
}

// QueueStatus is a point-in-time snapshot of the download queue
type QueueStatus struct {
	QueueLength int  `json:"queue_length"`
	Draining    bool `json:"draining"`
}

// EventType names a live progress event
type EventType string

const (
	EventAdUpdated   EventType = "ad_updated"
	EventJobProgress EventType = "job_progress"
)

// Event is pushed to live feed subscribers as JSON
type Event struct {
	Type              EventType    `json:"type"`
	JobID             string       `json:"job_id"`
	AdID              string       `json:"ad_id,omitempty"`
	Status            string       `json:"status"`
	Error             string       `json:"error,omitempty"`
	LocalMediaURL     string       `json:"local_media_url,omitempty"`
	LocalThumbnailURL string       `json:"local_thumbnail_url,omitempty"`
	Progress          *JobProgress `json:"progress,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
}
