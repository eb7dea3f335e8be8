package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/research"
	"github.com/nvara/adscout/internal/store"
)

type fakeAds struct {
	ads []research.AdCreative
	err error
}

func (f *fakeAds) Search(ctx context.Context, brand string, max int) ([]research.AdCreative, error) {
	return f.ads, f.err
}

type fakeVideos struct {
	results []research.DownloadResult
}

func (f *fakeVideos) Fetch(ctx context.Context, sessionID string, urls []string) []research.DownloadResult {
	return f.results
}

type fakeVision struct {
	analysis *research.VisionAnalysis
	err      error
}

func (f *fakeVision) Analyze(ctx context.Context, req research.VisionRequest) (*research.VisionAnalysis, error) {
	return f.analysis, f.err
}

type fakeSearch struct {
	results []research.SearchResult
	err     error
}

func (f *fakeSearch) Search(ctx context.Context, q string, limit int) ([]research.SearchResult, error) {
	return f.results, f.err
}

type fakeReports struct {
	saved *store.Report
	err   error
}

func (f *fakeReports) SaveReport(ctx context.Context, r *store.Report) (string, error) {
	f.saved = r
	return "report-1", f.err
}

func builtinRegistry(t *testing.T, deps Deps) *Registry {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	reg := NewRegistry(zap.NewNop())
	RegisterBuiltin(reg, deps)
	return reg
}

func TestBuiltinToolSetRegistered(t *testing.T) {
	reg := builtinRegistry(t, Deps{})
	for _, name := range []string{PlanTool, ScrapeTool, DownloadTool, VisionTool, SearchTool, ReportTool, TerminalTool} {
		if !reg.Has(name) {
			t.Errorf("missing builtin tool %s", name)
		}
	}
}

func TestPlanAlwaysSucceeds(t *testing.T) {
	reg := builtinRegistry(t, Deps{})

	res := reg.Execute(context.Background(), PlanTool,
		json.RawMessage(`{"task_understanding":"audit BrandX","steps":[{"action":"scrape","tool":"scrape_competitor_ads","expected_output":"ads"}],"success_criteria":["report saved"]}`))
	if !res.Success {
		t.Fatalf("plan must succeed: %q", res.Error)
	}
	if res.Data["task_understanding"] != "audit BrandX" {
		t.Errorf("plan payload not echoed: %v", res.Data)
	}

	// Even arguments that don't match the schema succeed; the plan is advisory.
	res = reg.Execute(context.Background(), PlanTool, json.RawMessage(`{"steps":"oops"}`))
	if !res.Success {
		t.Errorf("plan must not fail on loose arguments: %q", res.Error)
	}
}

func TestScrapeFallsBackToSessionBrand(t *testing.T) {
	ads := &fakeAds{ads: []research.AdCreative{{ID: "ad1", PageName: "BrandX"}}}
	reg := builtinRegistry(t, Deps{BrandName: "BrandX", Ads: ads})

	res := reg.Execute(context.Background(), ScrapeTool, json.RawMessage(`{}`))
	if !res.Success {
		t.Fatalf("expected success: %q", res.Error)
	}
	if res.Data["brand_name"] != "BrandX" || res.Data["ad_count"] != 1 {
		t.Errorf("unexpected data: %v", res.Data)
	}
}

func TestScrapeErrorBecomesEnvelope(t *testing.T) {
	reg := builtinRegistry(t, Deps{Ads: &fakeAds{err: errors.New("timeout")}})

	res := reg.Execute(context.Background(), ScrapeTool, json.RawMessage(`{"brand_name":"BrandX"}`))
	if res.Success {
		t.Fatal("collaborator error must produce a failure envelope")
	}
	if res.Error == "" {
		t.Error("failure envelope must carry the error")
	}
}

func TestScrapeRequiresBrand(t *testing.T) {
	reg := builtinRegistry(t, Deps{Ads: &fakeAds{}})
	res := reg.Execute(context.Background(), ScrapeTool, json.RawMessage(`{}`))
	if res.Success {
		t.Fatal("missing brand must fail, not crash")
	}
}

func TestDownloadCountsStored(t *testing.T) {
	videos := &fakeVideos{results: []research.DownloadResult{
		{URL: "a", Success: true, StoragePath: "creatives/a.mp4"},
		{URL: "b", Success: false, Error: "404"},
	}}
	reg := builtinRegistry(t, Deps{SessionID: "sess-1", Videos: videos})

	res := reg.Execute(context.Background(), DownloadTool, json.RawMessage(`{"video_urls":["a","b"]}`))
	if !res.Success {
		t.Fatalf("expected success: %q", res.Error)
	}
	if res.Data["stored"] != 1 || res.Data["requested"] != 2 {
		t.Errorf("unexpected counts: %v", res.Data)
	}
}

func TestVisionRequiresImages(t *testing.T) {
	reg := builtinRegistry(t, Deps{Vision: &fakeVision{}})
	res := reg.Execute(context.Background(), VisionTool, json.RawMessage(`{"ad_copy":"Buy now"}`))
	if res.Success {
		t.Fatal("missing image_urls must fail")
	}
}

func TestSearchWeb(t *testing.T) {
	reg := builtinRegistry(t, Deps{Search: &fakeSearch{results: []research.SearchResult{{Title: "hit"}}}})
	res := reg.Execute(context.Background(), SearchTool, json.RawMessage(`{"query":"BrandX ugc ads"}`))
	if !res.Success {
		t.Fatalf("expected success: %q", res.Error)
	}
}

func TestReportPersisted(t *testing.T) {
	reports := &fakeReports{}
	reg := builtinRegistry(t, Deps{SessionID: "sess-1", BrandName: "BrandX", Reports: reports})

	res := reg.Execute(context.Background(), ReportTool,
		json.RawMessage(`{"summary":"solid hooks","findings":["short videos"],"recommendations":["try ugc"]}`))
	if !res.Success {
		t.Fatalf("expected success: %q", res.Error)
	}
	if res.Data["report_id"] != "report-1" {
		t.Errorf("expected report id, got %v", res.Data)
	}
	if reports.saved == nil || reports.saved.SessionID != "sess-1" || reports.saved.BrandName != "BrandX" {
		t.Errorf("report not persisted with session fields: %+v", reports.saved)
	}
}

func TestCompleteTaskSignalsDelivery(t *testing.T) {
	reg := builtinRegistry(t, Deps{})
	res := reg.Execute(context.Background(), TerminalTool, json.RawMessage(`{"summary":"done"}`))
	if !res.Success {
		t.Fatalf("expected success: %q", res.Error)
	}
	if res.Data["results_delivered"] != true {
		t.Errorf("terminal tool must mark results delivered: %v", res.Data)
	}
}
