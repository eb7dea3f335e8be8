package tools

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/llm"
	"github.com/nvara/adscout/internal/research"
	"github.com/nvara/adscout/internal/store"
)

// Tool names. TerminalTool marks the loop's completion signal; PlanTool
// gets the richer plan_created event treatment.
const (
	PlanTool     = "plan"
	ScrapeTool   = "scrape_competitor_ads"
	DownloadTool = "download_videos"
	VisionTool   = "analyze_visuals"
	SearchTool   = "search_web"
	ReportTool   = "synthesize_report"
	TerminalTool = "complete_task"
)

// Icon returns the UI icon hint for a tool's log entries.
func Icon(toolName string) string {
	switch toolName {
	case PlanTool:
		return "clipboard"
	case ScrapeTool:
		return "megaphone"
	case DownloadTool:
		return "download"
	case VisionTool:
		return "eye"
	case SearchTool:
		return "globe"
	case ReportTool:
		return "file-text"
	case TerminalTool:
		return "check-circle"
	default:
		return "wrench"
	}
}

// AdSearcher finds a brand's running ad creatives.
type AdSearcher interface {
	Search(ctx context.Context, brandName string, maxAds int) ([]research.AdCreative, error)
}

// VideoFetcher downloads videos into blob storage.
type VideoFetcher interface {
	Fetch(ctx context.Context, sessionID string, urls []string) []research.DownloadResult
}

// VisionAnalyzer assesses creative imagery.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, req research.VisionRequest) (*research.VisionAnalysis, error)
}

// WebSearcher runs a web search.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]research.SearchResult, error)
}

// ReportSaver persists a synthesized report.
type ReportSaver interface {
	SaveReport(ctx context.Context, r *store.Report) (string, error)
}

// Deps are the collaborators the builtin tools dispatch to, scoped to one
// session.
type Deps struct {
	SessionID string
	BrandName string
	Ads       AdSearcher
	Videos    VideoFetcher
	Vision    VisionAnalyzer
	Search    WebSearcher
	Reports   ReportSaver
	Logger    *zap.Logger
}

// PlanStep is one step of the model's stated plan.
type PlanStep struct {
	Action         string `json:"action"`
	Tool           string `json:"tool"`
	ExpectedOutput string `json:"expected_output"`
}

// Plan is the model's task understanding, step list and success criteria.
type Plan struct {
	TaskUnderstanding string     `json:"task_understanding"`
	Steps             []PlanStep `json:"steps"`
	SuccessCriteria   []string   `json:"success_criteria"`
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// RegisterBuiltin wires the fixed tool set into the registry.
func RegisterBuiltin(reg *Registry, deps Deps) {
	reg.Register(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        PlanTool,
			Description: "Record your task understanding, an ordered step list, and success criteria. Call this first.",
			Parameters: objectSchema(map[string]interface{}{
				"task_understanding": map[string]interface{}{"type": "string"},
				"steps": map[string]interface{}{
					"type": "array",
					"items": objectSchema(map[string]interface{}{
						"action":          map[string]interface{}{"type": "string"},
						"tool":            map[string]interface{}{"type": "string"},
						"expected_output": map[string]interface{}{"type": "string"},
					}),
				},
				"success_criteria": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			}, "task_understanding", "steps"),
		},
	}, planHandler(deps))

	reg.Register(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        ScrapeTool,
			Description: "Search the ad library for a brand's currently running ad creatives.",
			Parameters: objectSchema(map[string]interface{}{
				"brand_name": map[string]interface{}{"type": "string"},
				"max_ads":    map[string]interface{}{"type": "integer"},
			}, "brand_name"),
		},
	}, scrapeHandler(deps))

	reg.Register(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        DownloadTool,
			Description: "Download ad videos into storage for later analysis.",
			Parameters: objectSchema(map[string]interface{}{
				"video_urls": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			}, "video_urls"),
		},
	}, downloadHandler(deps))

	reg.Register(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        VisionTool,
			Description: "Run vision analysis over creative thumbnails or frames: hook, visual quality, key messages, CTA.",
			Parameters: objectSchema(map[string]interface{}{
				"image_urls": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"ad_copy":    map[string]interface{}{"type": "string"},
				"context":    map[string]interface{}{"type": "string"},
			}, "image_urls"),
		},
	}, visionHandler(deps))

	reg.Register(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        SearchTool,
			Description: "Search the web for supporting market or brand information.",
			Parameters: objectSchema(map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
				"limit": map[string]interface{}{"type": "integer"},
			}, "query"),
		},
	}, searchHandler(deps))

	reg.Register(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        ReportTool,
			Description: "Persist the final research report: summary, findings, recommendations.",
			Parameters: objectSchema(map[string]interface{}{
				"brand_name":      map[string]interface{}{"type": "string"},
				"summary":         map[string]interface{}{"type": "string"},
				"findings":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"recommendations": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			}, "summary"),
		},
	}, reportHandler(deps))

	reg.Register(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        TerminalTool,
			Description: "Finish the run. Call once the audit is complete and results are delivered.",
			Parameters: objectSchema(map[string]interface{}{
				"summary":           map[string]interface{}{"type": "string"},
				"findings":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"recommendations":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"results_delivered": map[string]interface{}{"type": "boolean"},
			}, "summary"),
		},
	}, completeHandler(deps))
}

// planHandler is pure bookkeeping and always succeeds.
func planHandler(deps Deps) Handler {
	return func(ctx context.Context, args json.RawMessage) *Result {
		var plan Plan
		if err := json.Unmarshal(args, &plan); err != nil {
			// Still succeed: the plan is advisory, never enforced.
			deps.Logger.Warn("plan arguments not fully parsed", zap.Error(err))
		}
		data := map[string]interface{}{
			"task_understanding": plan.TaskUnderstanding,
			"steps":              plan.Steps,
			"success_criteria":   plan.SuccessCriteria,
		}
		return Ok(data)
	}
}

func scrapeHandler(deps Deps) Handler {
	return func(ctx context.Context, args json.RawMessage) *Result {
		var req struct {
			BrandName string `json:"brand_name"`
			MaxAds    int    `json:"max_ads"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return Fail("invalid arguments: %v", err)
		}
		if strings.TrimSpace(req.BrandName) == "" {
			req.BrandName = deps.BrandName
		}
		if req.BrandName == "" {
			return Fail("brand_name is required")
		}

		ads, err := deps.Ads.Search(ctx, req.BrandName, req.MaxAds)
		if err != nil {
			return Fail("ad scrape failed: %v", err)
		}
		return Ok(map[string]interface{}{
			"brand_name": req.BrandName,
			"ad_count":   len(ads),
			"ads":        ads,
		})
	}
}

func downloadHandler(deps Deps) Handler {
	return func(ctx context.Context, args json.RawMessage) *Result {
		var req struct {
			VideoURLs []string `json:"video_urls"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return Fail("invalid arguments: %v", err)
		}
		if len(req.VideoURLs) == 0 {
			return Fail("video_urls is required")
		}

		results := deps.Videos.Fetch(ctx, deps.SessionID, req.VideoURLs)
		stored := 0
		for _, r := range results {
			if r.Success {
				stored++
			}
		}
		return Ok(map[string]interface{}{
			"requested": len(req.VideoURLs),
			"stored":    stored,
			"results":   results,
		})
	}
}

func visionHandler(deps Deps) Handler {
	return func(ctx context.Context, args json.RawMessage) *Result {
		var req research.VisionRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return Fail("invalid arguments: %v", err)
		}
		if len(req.ImageURLs) == 0 {
			return Fail("image_urls is required")
		}

		analysis, err := deps.Vision.Analyze(ctx, req)
		if err != nil {
			return Fail("vision analysis failed: %v", err)
		}
		return Ok(map[string]interface{}{
			"analysis": analysis,
		})
	}
}

func searchHandler(deps Deps) Handler {
	return func(ctx context.Context, args json.RawMessage) *Result {
		var req struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return Fail("invalid arguments: %v", err)
		}
		if strings.TrimSpace(req.Query) == "" {
			return Fail("query is required")
		}

		results, err := deps.Search.Search(ctx, req.Query, req.Limit)
		if err != nil {
			return Fail("web search failed: %v", err)
		}
		return Ok(map[string]interface{}{
			"query":   req.Query,
			"results": results,
		})
	}
}

func reportHandler(deps Deps) Handler {
	return func(ctx context.Context, args json.RawMessage) *Result {
		var req struct {
			BrandName       string   `json:"brand_name"`
			Summary         string   `json:"summary"`
			Findings        []string `json:"findings"`
			Recommendations []string `json:"recommendations"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return Fail("invalid arguments: %v", err)
		}
		if req.BrandName == "" {
			req.BrandName = deps.BrandName
		}

		id, err := deps.Reports.SaveReport(ctx, &store.Report{
			SessionID:       deps.SessionID,
			BrandName:       req.BrandName,
			Summary:         req.Summary,
			Findings:        req.Findings,
			Recommendations: req.Recommendations,
		})
		if err != nil {
			return Fail("save report failed: %v", err)
		}
		return Ok(map[string]interface{}{
			"report_id": id,
		})
	}
}

// completeHandler is the terminal signal; the orchestrator checks its
// success flag to end the loop.
func completeHandler(deps Deps) Handler {
	return func(ctx context.Context, args json.RawMessage) *Result {
		var req struct {
			Summary          string   `json:"summary"`
			Findings         []string `json:"findings"`
			Recommendations  []string `json:"recommendations"`
			ResultsDelivered bool     `json:"results_delivered"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return Fail("invalid arguments: %v", err)
		}
		return Ok(map[string]interface{}{
			"summary":           req.Summary,
			"findings":          req.Findings,
			"recommendations":   req.Recommendations,
			"results_delivered": true,
		})
	}
}
