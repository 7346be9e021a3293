package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/hunyaochong/ads-cloner/internal/config"
)

// ErrEmptyURL is returned for a blank source URL
var ErrEmptyURL = errors.New("empty source url")

// Fetcher downloads one remote asset to one local file
type Fetcher interface {
	// Fetch writes the asset at sourceURL to destPath. On error no file
	// is guaranteed to exist at destPath.
	Fetch(ctx context.Context, sourceURL, destPath string) error
}

// FetchError describes a failed fetch. ExitCode and Stderr are set when the
// fetch ran as an external process.
type FetchError struct {
	URL      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("fetch failed with code %d: %v: %s", e.ExitCode, e.Err, e.Stderr)
	}
	return fmt.Sprintf("fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// New creates the fetcher selected by configuration
func New(cfg config.FetcherConfig) (Fetcher, error) {
	switch cfg.Type {
	case "http":
		return NewHTTPFetcher(cfg), nil
	case "exec":
		return NewExecFetcher(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type: %s", cfg.Type)
	}
}
