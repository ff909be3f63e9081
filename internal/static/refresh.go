package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAge is how long a downloaded feed is used before it is fetched again
const DefaultMaxAge = 7 * 24 * time.Hour

// FeedSource describes where the static GTFS feed comes from
type FeedSource struct {
	URL    string
	Path   string
	MaxAge time.Duration
}

// RefreshIfStale downloads the feed to Path when URL is set and the local copy is
// missing or older than MaxAge. It reports whether a download happened.
// A local directory feed is never replaced.
func RefreshIfStale(ctx context.Context, src FeedSource, client *http.Client, logger *zap.Logger) (bool, error) {
	if src.URL == "" {
		return false, nil
	}
	maxAge := src.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if info, err := os.Stat(src.Path); err == nil && info.IsDir() {
		logger.Debug("gtfs source is a directory, skipping download", zap.String("path", src.Path))
		return false, nil
	}
	if !isStaleOrMissing(src.Path, maxAge, time.Now()) {
		logger.Debug("gtfs feed is fresh", zap.String("path", src.Path))
		return false, nil
	}

	logger.Info("downloading gtfs feed", zap.String("url", src.URL), zap.String("path", src.Path))
	if err := download(ctx, client, src.URL, src.Path); err != nil {
		return false, err
	}
	return true, nil
}

func isStaleOrMissing(path string, maxAge time.Duration, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return now.Sub(info.ModTime()) > maxAge
}

// download writes url to path through a temp file so a failed transfer keeps the old feed
func download(ctx context.Context, client *http.Client, url, path string) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download gtfs feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gtfs download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create gtfs directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gtfs-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write gtfs feed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write gtfs feed: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move gtfs feed into place: %w", err)
	}
	return nil
}
