package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/config"
)

// Fetcher stages remote images on local disk so they can be attached to the
// remote composer, and removes them again afterwards.
type Fetcher struct {
	logger  *zap.Logger
	tempDir string
	client  *http.Client
}

func NewFetcher(cfg *config.AssetsConfig, logger *zap.Logger) *Fetcher {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "cascade-assets")
	}
	return &Fetcher{
		logger:  logger,
		tempDir: tempDir,
		client:  &http.Client{Timeout: config.Duration(cfg.Timeout, 60*time.Second)},
	}
}

// Download stores every URL in a fresh staging directory and returns the
// local paths in input order. Individual failures are skipped; an error is
// returned only when nothing could be downloaded.
func (f *Fetcher) Download(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	dir := filepath.Join(f.tempDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	paths := make([]string, 0, len(urls))
	var errs []error
	for i, url := range urls {
		localPath := filepath.Join(dir, fmt.Sprintf("%03d%s", i+1, fileExtension(url)))
		if err := f.downloadFile(ctx, url, localPath); err != nil {
			f.logger.Warn("Failed to download asset, skipping", zap.String("url", url), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		paths = append(paths, localPath)
	}

	if len(paths) == 0 {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("no assets downloaded: %w", errors.Join(errs...))
	}

	f.logger.Info("Assets staged",
		zap.String("dir", dir),
		zap.Int("downloaded", len(paths)),
		zap.Int("failed", len(errs)))
	return paths, nil
}

// Cleanup removes staged files and their staging directories. It never fails;
// problems are logged.
func (f *Fetcher) Cleanup(paths []string) {
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			f.logger.Warn("Failed to remove staged asset", zap.String("path", p), zap.Error(err))
		}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		// Only directories we created under tempDir are removed.
		if filepath.Dir(dir) != filepath.Clean(f.tempDir) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			f.logger.Warn("Failed to remove staging directory", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func (f *Fetcher) downloadFile(ctx context.Context, url, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download: status %d", resp.StatusCode)
	}

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

func fileExtension(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx != -1 {
		url = url[:idx]
	}
	ext := strings.ToLower(filepath.Ext(url))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	}
	return ".jpg"
}
