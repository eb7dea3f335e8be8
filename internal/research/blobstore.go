package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BlobStore uploads assets to an object-storage bucket over HTTP.
type BlobStore struct {
	endpoint string
	bucket   string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewBlobStore creates a blob store client for one bucket.
func NewBlobStore(endpoint, bucket, apiKey string, logger *zap.Logger) *BlobStore {
	return &BlobStore{
		endpoint: endpoint,
		bucket:   bucket,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 120 * time.Second},
		logger:   logger,
	}
}

// Upload stores the reader's contents at the given path and returns the
// storage path.
func (b *BlobStore) Upload(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/object/%s/%s", b.endpoint, b.bucket, path), r)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("storage error %d: %s", resp.StatusCode, string(body))
	}

	storagePath := b.bucket + "/" + path
	b.logger.Debug("blob uploaded", zap.String("path", storagePath))
	return storagePath, nil
}

// PublicURL returns the public URL for a stored object.
func (b *BlobStore) PublicURL(storagePath string) string {
	return fmt.Sprintf("%s/object/public/%s", b.endpoint, storagePath)
}
