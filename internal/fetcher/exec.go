package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hunyaochong/ads-cloner/internal/config"
)

// ExecFetcher runs an external downloader process per asset
type ExecFetcher struct {
	command string
	script  string
	timeout time.Duration
}

// NewExecFetcher creates a fetcher invoking cfg.Command with cfg.Script
func NewExecFetcher(cfg config.FetcherConfig) *ExecFetcher {
	return &ExecFetcher{
		command: cfg.Command,
		script:  cfg.Script,
		timeout: cfg.Timeout,
	}
}

// Fetch runs `<command> [script] --single-url URL --output-dir DIR --filename NAME`
// and expects the process to leave the file at destPath.
func (f *ExecFetcher) Fetch(ctx context.Context, sourceURL, destPath string) error {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return &FetchError{Err: ErrEmptyURL}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var args []string
	if f.script != "" {
		args = append(args, f.script)
	}
	args = append(args,
		"--single-url", sourceURL,
		"--output-dir", filepath.Dir(destPath),
		"--filename", filepath.Base(destPath),
	)

	cmd := exec.CommandContext(ctx, f.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(destPath)
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &FetchError{
			URL:      sourceURL,
			ExitCode: code,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	if _, err := os.Stat(destPath); err != nil {
		return &FetchError{URL: sourceURL, Err: fmt.Errorf("download completed but file not found: %w", err)}
	}
	return nil
}
