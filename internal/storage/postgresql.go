package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

const adColumns = `id, job_id, ad_archive_id, COALESCE(page_name, ''), media_url, media_type,
	preview_image_url, download_status, download_error, local_media_url, local_thumbnail_url,
	created_at, updated_at`

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db *sql.DB
}

// NewPostgreSQLStorage opens a PostgreSQL connection pool
func NewPostgreSQLStorage(cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgreSQLStorage{db: db}, nil
}

// GetPendingAdsByIDs selects pending ads whose id is in ids
func (p *PostgreSQLStorage) GetPendingAdsByIDs(ctx context.Context, ids []string) ([]models.Ad, error) {
	ads, err := p.queryAds(ctx,
		`SELECT `+adColumns+` FROM ads WHERE id::text = ANY($1) AND download_status = $2`,
		pq.Array(uniqueIDs(ids)), models.DownloadStatusPending,
	)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, ads), nil
}

// GetAdsByJob selects all ads of a job
func (p *PostgreSQLStorage) GetAdsByJob(ctx context.Context, jobID string) ([]models.Ad, error) {
	return p.queryAds(ctx,
		`SELECT `+adColumns+` FROM ads WHERE job_id::text = $1 ORDER BY created_at`,
		jobID,
	)
}

// ListPendingAds selects every pending ad
func (p *PostgreSQLStorage) ListPendingAds(ctx context.Context) ([]models.Ad, error) {
	return p.queryAds(ctx,
		`SELECT `+adColumns+` FROM ads WHERE download_status = $1 ORDER BY created_at`,
		models.DownloadStatusPending,
	)
}

func (p *PostgreSQLStorage) queryAds(ctx context.Context, query string, args ...any) ([]models.Ad, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ads: %w", err)
	}
	defer rows.Close()

	ads := make([]models.Ad, 0)
	for rows.Next() {
		var ad models.Ad
		var preview, dlErr, media, thumb sql.NullString
		if err := rows.Scan(
			&ad.ID, &ad.JobID, &ad.ArchiveID, &ad.PageName, &ad.MediaURL, &ad.MediaType,
			&preview, &ad.DownloadStatus, &dlErr, &media, &thumb,
			&ad.CreatedAt, &ad.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ad: %w", err)
		}
		ad.PreviewImageURL = fromNull(preview)
		ad.DownloadError = fromNull(dlErr)
		ad.LocalMediaURL = fromNull(media)
		ad.LocalThumbnailURL = fromNull(thumb)
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ads: %w", err)
	}
	return ads, nil
}

// GetJob retrieves a job by ID
func (p *PostgreSQLStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var (
		job    models.Job
		errMsg sql.NullString
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, url, status, total_ads, downloaded_ads, error_message, created_at, updated_at
		 FROM scraping_jobs WHERE id::text = $1`,
		id,
	).Scan(&job.ID, &job.URL, &job.Status, &job.TotalCount, &job.DownloadedCount, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	job.ErrorMessage = fromNull(errMsg)
	return &job, nil
}

// UpdateAd writes the download fields of one ad. COALESCE keeps stored URLs
// when the update carries none.
func (p *PostgreSQLStorage) UpdateAd(ctx context.Context, id string, update models.AdUpdate) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE ads SET
			download_status = $2,
			download_error = $3,
			local_media_url = COALESCE($4, local_media_url),
			local_thumbnail_url = COALESCE($5, local_thumbnail_url),
			updated_at = NOW()
		 WHERE id::text = $1`,
		id, update.Status, toNull(update.Error), update.LocalMediaURL, update.LocalThumbnailURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update ad %s: %w", id, err)
	}
	return requireAffected(res, "ad", id)
}

// UpdateJobProgress writes the aggregate counters of one job
func (p *PostgreSQLStorage) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE scraping_jobs SET total_ads = $2, downloaded_ads = $3, status = $4, updated_at = NOW()
		 WHERE id::text = $1`,
		id, progress.TotalCount, progress.DownloadedCount, progress.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return requireAffected(res, "job", id)
}

// Close closes the connection pool
func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func toNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
