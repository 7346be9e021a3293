package pipeline

import (
	"fmt"

	"github.com/hunyaochong/ads-cloner/internal/models"
)

// MediaFilename is the local and stored filename of an ad's main media
func MediaFilename(ad models.Ad) string {
	return fmt.Sprintf("%s.%s", ad.ArchiveID, ad.MediaType.Extension())
}

// ThumbnailFilename is the local and stored filename of a video preview
func ThumbnailFilename(ad models.Ad) string {
	return ad.ArchiveID + "_thumb.jpg"
}

// MediaPath returns the object store path {job_id}/media/{archive_id}.{ext}
func MediaPath(ad models.Ad) string {
	return fmt.Sprintf("%s/media/%s", ad.JobID, MediaFilename(ad))
}

// ThumbnailPath returns the object store path {job_id}/thumbnails/{archive_id}_thumb.jpg
func ThumbnailPath(ad models.Ad) string {
	return fmt.Sprintf("%s/thumbnails/%s", ad.JobID, ThumbnailFilename(ad))
}
