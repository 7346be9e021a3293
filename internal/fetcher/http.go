package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hunyaochong/ads-cloner/internal/config"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// HTTPFetcher implements Fetcher with a plain HTTP GET
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPFetcher creates a new HTTPFetcher
func NewHTTPFetcher(cfg config.FetcherConfig) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
		maxBytes:  cfg.MaxBytes,
	}
}

// Fetch streams the asset at sourceURL into destPath
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL, destPath string) error {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return &FetchError{Err: ErrEmptyURL}
	}

	if err := f.fetch(ctx, sourceURL, destPath); err != nil {
		_ = os.Remove(destPath)
		return &FetchError{URL: sourceURL, Err: err}
	}
	return nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, sourceURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", destPath, err)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to write file: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if n == 0 {
		return errors.New("empty response body")
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return fmt.Errorf("response exceeds %d bytes", f.maxBytes)
	}

	mt, err := mimetype.DetectFile(destPath)
	if err != nil {
		return fmt.Errorf("failed to detect content type: %w", err)
	}
	if mt.Is("text/html") || strings.HasPrefix(mt.String(), "text/") {
		return fmt.Errorf("unexpected content type %s", mt.String())
	}
	return nil
}
