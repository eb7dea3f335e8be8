package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// AdLibraryClient queries a hosted ad-library search service for a brand's
// running creatives.
type AdLibraryClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewAdLibraryClient creates an ad-library client.
func NewAdLibraryClient(endpoint, apiKey string, logger *zap.Logger) *AdLibraryClient {
	return &AdLibraryClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

// Search returns up to maxAds creatives for the given brand.
func (c *AdLibraryClient) Search(ctx context.Context, brandName string, maxAds int) ([]AdCreative, error) {
	if maxAds <= 0 {
		maxAds = 10
	}
	q := url.Values{}
	q.Set("search_terms", brandName)
	q.Set("limit", strconv.Itoa(maxAds))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/ads?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ad library error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Ads []AdCreative `json:"ads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("ad library search",
		zap.String("brand", brandName),
		zap.Int("ads", len(result.Ads)))
	return result.Ads, nil
}
