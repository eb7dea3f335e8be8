package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// VisionClient sends creative imagery to a hosted vision-analysis service.
type VisionClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewVisionClient creates a vision-analysis client.
func NewVisionClient(endpoint, apiKey string, logger *zap.Logger) *VisionClient {
	return &VisionClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 90 * time.Second},
		logger:   logger,
	}
}

// Analyze submits image URLs plus ad copy and returns the structured
// creative assessment.
func (c *VisionClient) Analyze(ctx context.Context, req VisionRequest) (*VisionAnalysis, error) {
	if len(req.ImageURLs) == 0 {
		return nil, fmt.Errorf("no images to analyze")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vision error %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Analysis VisionAnalysis `json:"analysis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("vision analysis complete",
		zap.Int("images", len(req.ImageURLs)),
		zap.Int("quality", result.Analysis.VisualQuality))
	return &result.Analysis, nil
}
