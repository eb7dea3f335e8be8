// Package research holds the clients for the remote analysis collaborators:
// the ad-library scraper, the video downloader and blob store, the vision
// analyzer, and web search. Each is a black box with its own failure modes;
// callers treat any error as a recoverable tool failure.
package research

import "time"

// AdCreative is one scraped competitor ad.
type AdCreative struct {
	ID           string    `json:"id"`
	PageName     string    `json:"page_name"`
	Headline     string    `json:"headline"`
	Body         string    `json:"body"`
	VideoURL     string    `json:"video_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

// DownloadResult records the outcome of fetching and storing one video.
type DownloadResult struct {
	URL         string `json:"url"`
	StoragePath string `json:"storage_path,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// VisionRequest bundles creative imagery with its ad copy and context.
type VisionRequest struct {
	ImageURLs []string `json:"image_urls"`
	AdCopy    string   `json:"ad_copy,omitempty"`
	Context   string   `json:"context,omitempty"`
}

// VisionAnalysis is the structured creative assessment.
type VisionAnalysis struct {
	HookAssessment  string   `json:"hook_assessment"`
	VisualQuality   int      `json:"visual_quality"`
	KeyMessages     []string `json:"key_messages"`
	CTAAssessment   string   `json:"cta_assessment"`
	Recommendations []string `json:"recommendations"`
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}
