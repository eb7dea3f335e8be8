package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Downloader fetches remote videos and stores them as blobs. One bad URL
// never fails the batch; each result carries its own success flag.
type Downloader struct {
	blobs  *BlobStore
	client *http.Client
	logger *zap.Logger
}

// NewDownloader creates a downloader backed by the given blob store.
func NewDownloader(blobs *BlobStore, logger *zap.Logger) *Downloader {
	return &Downloader{
		blobs:  blobs,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

// maxVideoSize caps a single download at 100 MB.
const maxVideoSize = 100 << 20

// Fetch downloads each URL and uploads it under the session's prefix.
func (d *Downloader) Fetch(ctx context.Context, sessionID string, urls []string) []DownloadResult {
	results := make([]DownloadResult, 0, len(urls))
	for _, u := range urls {
		res := d.fetchOne(ctx, sessionID, u)
		if !res.Success {
			d.logger.Warn("video download failed",
				zap.String("url", u), zap.String("error", res.Error))
		}
		results = append(results, res)
	}
	return results
}

func (d *Downloader) fetchOne(ctx context.Context, sessionID, videoURL string) DownloadResult {
	res := DownloadResult{URL: videoURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		res.Error = fmt.Sprintf("create request: %v", err)
		return res
	}

	resp, err := d.client.Do(req)
	if err != nil {
		res.Error = fmt.Sprintf("fetch video: %v", err)
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		res.Error = fmt.Sprintf("fetch video: status %d", resp.StatusCode)
		return res
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	body := io.LimitReader(resp.Body, maxVideoSize)
	path := fmt.Sprintf("%s/%s.mp4", sessionID, uuid.New().String())
	storagePath, err := d.blobs.Upload(ctx, path, contentType, body)
	if err != nil {
		res.Error = fmt.Sprintf("store video: %v", err)
		return res
	}

	res.StoragePath = storagePath
	res.Size = resp.ContentLength
	res.Success = true
	return res
}
