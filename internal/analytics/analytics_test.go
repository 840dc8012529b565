package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/db"
	"github.com/lucasnoah/contractforge/internal/iterate"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	url := os.Getenv("FORGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FORGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("reset test db: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

// --- aggregation ---

func TestStageDurations(t *testing.T) {
	samples := []stageSample{
		{stage: "syntax", ms: 10},
		{stage: "syntax", ms: 30},
		{stage: "assertions", ms: 5},
	}
	results := stageDurations(samples)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Stage != "assertions" || results[1].Stage != "syntax" {
		t.Errorf("stages not sorted: %q, %q", results[0].Stage, results[1].Stage)
	}
	syntax := results[1]
	if syntax.Count != 2 {
		t.Errorf("count = %d, want 2", syntax.Count)
	}
	if syntax.Avg != 20 {
		t.Errorf("avg = %f, want 20", syntax.Avg)
	}
	if syntax.P50 != 20 {
		t.Errorf("p50 = %f, want 20", syntax.P50)
	}
}

func TestStageDurationsEmpty(t *testing.T) {
	if results := stageDurations(nil); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestFailureRates(t *testing.T) {
	samples := []stageSample{
		{stage: "syntax", critical: true, attempt: 1, passed: false},
		{stage: "syntax", critical: true, attempt: 2, passed: true},
		{stage: "syntax", critical: true, attempt: 1, passed: true},
		{stage: "syntax", critical: true, attempt: 1, passed: true},
		{stage: "quality", attempt: 1, passed: true},
	}
	results := failureRates(samples)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	syntax := results[1]
	if syntax.Stage != "syntax" || !syntax.Critical {
		t.Fatalf("unexpected result %+v", syntax)
	}
	if syntax.Total != 4 {
		t.Errorf("total = %d, want 4", syntax.Total)
	}
	if syntax.Failed != 25 {
		t.Errorf("failed = %f, want 25", syntax.Failed)
	}
	if syntax.FirstAttempt != 33.3 {
		t.Errorf("first attempt = %f, want 33.3", syntax.FirstAttempt)
	}
	if results[0].Failed != 0 {
		t.Errorf("quality failed = %f, want 0", results[0].Failed)
	}
}

func TestAttemptDist(t *testing.T) {
	runs := []runAttempts{
		{status: "accepted", attempts: 1},
		{status: "accepted", attempts: 2},
		{status: "accepted", attempts: 1},
		{status: "accepted", attempts: 4},
		{status: "exhausted", attempts: 3},
	}
	results := attemptDist(runs)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	acc := results[0]
	if acc.Status != "accepted" || acc.Total != 4 {
		t.Fatalf("unexpected result %+v", acc)
	}
	if acc.One != 50 || acc.Two != 25 || acc.ThreePlus != 25 {
		t.Errorf("distribution = %f/%f/%f, want 50/25/25", acc.One, acc.Two, acc.ThreePlus)
	}
	if acc.Avg != 2 {
		t.Errorf("avg = %f, want 2", acc.Avg)
	}
	if results[1].ThreePlus != 100 {
		t.Errorf("exhausted three plus = %f, want 100", results[1].ThreePlus)
	}
}

// --- queries ---

func seedRun(t *testing.T, d *db.DB, id string, status iterate.State, failures int) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	run := iterate.Run{ID: id, Contract: "blog", Targets: []string{"service"}, MaxIterations: 3, Policy: iterate.CriticalOnly, Started: start}
	if err := d.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	code, _ := artifact.New([]artifact.File{{Path: "service/router.go", Content: "package blog\n"}}, artifact.Meta{})
	for attempt := 1; attempt <= failures+1; attempt++ {
		var errs []checks.Diagnostic
		action := iterate.ActionAccept
		if attempt <= failures {
			errs = []checks.Diagnostic{{Kind: checks.KindSyntax, File: "service/router.go", Line: 1, Message: "expected declaration"}}
			action = iterate.ActionCorrect
		}
		stage := checks.NewStageResult("syntax", true, errs, nil)
		stage.Duration = time.Duration(attempt*100) * time.Millisecond
		rec := iterate.Record{
			Attempt:  attempt,
			Code:     code,
			Result:   checks.PipelineResult{Stages: []checks.StageResult{stage}},
			Action:   action,
			Started:  start.Add(time.Duration(attempt) * time.Minute),
			Finished: start.Add(time.Duration(attempt)*time.Minute + time.Second),
		}
		if err := d.RecordIteration(ctx, id, rec); err != nil {
			t.Fatalf("RecordIteration: %v", err)
		}
	}
	if err := d.FinishRun(ctx, id, &iterate.Outcome{Status: status, Finished: start.Add(time.Hour)}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
}

func TestQueries(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	seedRun(t, d, "a", iterate.StateAccepted, 0)
	seedRun(t, d, "b", iterate.StateAccepted, 1)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	durations, err := QueryStageDurations(ctx, d.Pool(), since)
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(durations) != 1 || durations[0].Count != 3 {
		t.Fatalf("durations = %+v, want one syntax entry with 3 samples", durations)
	}

	rates, err := QueryStageFailureRates(ctx, d.Pool(), since)
	if err != nil {
		t.Fatalf("QueryStageFailureRates: %v", err)
	}
	if len(rates) != 1 || rates[0].FirstAttempt != 50 {
		t.Fatalf("rates = %+v, want first attempt failure 50%%", rates)
	}

	dist, err := QueryAttempts(ctx, d.Pool(), since)
	if err != nil {
		t.Fatalf("QueryAttempts: %v", err)
	}
	if len(dist) != 1 || dist[0].Total != 2 || dist[0].One != 50 || dist[0].Two != 50 {
		t.Fatalf("dist = %+v", dist)
	}

	tp, err := QueryThroughput(ctx, d.Pool(), since)
	if err != nil {
		t.Fatalf("QueryThroughput: %v", err)
	}
	if len(tp) != 1 || tp[0].Period != "2024-W23" || tp[0].Accepted != 2 {
		t.Fatalf("throughput = %+v", tp)
	}
}

func TestQueriesRespectSince(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	seedRun(t, d, "a", iterate.StateAccepted, 0)

	durations, err := QueryStageDurations(ctx, d.Pool(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(durations) != 0 {
		t.Errorf("expected no durations, got %d", len(durations))
	}
}

// --- helpers ---

func TestAvg(t *testing.T) {
	if v := avg([]float64{10, 20, 30}); v != 20.0 {
		t.Errorf("avg([10,20,30]) = %f, want 20.0", v)
	}
	if v := avg(nil); v != 0.0 {
		t.Errorf("avg(nil) = %f, want 0.0", v)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	p50 := percentile(values, 50)
	if p50 < 5.0 || p50 > 6.0 {
		t.Errorf("p50 = %f, expected ~5.5", p50)
	}
	p95 := percentile(values, 95)
	if p95 < 9.0 || p95 > 10.0 {
		t.Errorf("p95 = %f, expected ~9.6", p95)
	}
	if v := percentile(nil, 50); v != 0.0 {
		t.Errorf("percentile(nil, 50) = %f, want 0.0", v)
	}
}

func TestPct(t *testing.T) {
	if v := pct(1, 4); v != 25.0 {
		t.Errorf("pct(1,4) = %f, want 25.0", v)
	}
	if v := pct(0, 0); v != 0.0 {
		t.Errorf("pct(0,0) = %f, want 0.0", v)
	}
}
