package db

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/feedback"
	"github.com/lucasnoah/contractforge/internal/iterate"
)

// testDB connects to FORGE_TEST_DATABASE_URL and resets the schema. Tests
// that need Postgres are skipped without it.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("FORGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FORGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("reset test db: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestOpenRejectsMalformedURL(t *testing.T) {
	if _, err := Open(context.Background(), "postgres://forge@localhost:notaport/forge"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestMigrate(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	for _, table := range []string{"schema_version", "runs", "iterations", "stage_results"} {
		var name string
		err := d.pool.QueryRow(ctx,
			`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.pool.QueryRow(ctx, "SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func testRecord(attempt int, action iterate.Action) iterate.Record {
	res := checks.PipelineResult{
		Stages: []checks.StageResult{
			checks.NewStageResult("syntax", true, []checks.Diagnostic{
				{Kind: checks.KindDuplicateDeclaration, File: "service/models/user.go", Line: 12, Message: "duplicate field Email", Fix: "delete-line"},
			}, nil),
			checks.NewStageResult("quality", false, nil, []checks.Diagnostic{
				{Kind: checks.KindQuality, File: "service/router.go", Line: 4, Message: "unresolved TODO marker"},
			}),
		},
		Summary: checks.Summary{PassedStages: 1, TotalStages: 2, TotalErrors: 1, TotalWarnings: 1},
	}
	res.Stages[0].Duration = 1500 * time.Millisecond
	code, _ := artifact.New([]artifact.File{{Path: "service/router.go", Content: "package blog\n"}}, artifact.Meta{})
	start := time.Date(2024, 1, 1, 10, 0, attempt, 0, time.UTC)
	return iterate.Record{
		Attempt:  attempt,
		Code:     code,
		Result:   res,
		Feedback: feedback.Generate(res),
		Action:   action,
		Started:  start,
		Finished: start.Add(time.Second),
	}
}

func TestRunLifecycle(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	obs := d.Observer()
	run := iterate.Run{
		ID: "run-1", Contract: "blog", Targets: []string{"service"}, MaxIterations: 3,
		Policy: iterate.CriticalOnly, Started: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}

	if err := obs.RunStarted(ctx, run); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	first := testRecord(1, iterate.ActionCorrect)
	if err := obs.IterationRecorded(ctx, run, first); err != nil {
		t.Fatalf("IterationRecorded: %v", err)
	}
	out := &iterate.Outcome{RunID: run.ID, Status: iterate.StateExhausted, FinalCode: first.Code, Finished: first.Finished}
	if err := obs.RunFinished(ctx, run, out); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	r, err := d.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != "exhausted" || r.FinalDigest != first.Code.Digest() || r.FinishedAt == nil {
		t.Errorf("run = %+v", r)
	}
	if len(r.Targets) != 1 || r.Targets[0] != "service" {
		t.Errorf("Targets = %v", r.Targets)
	}

	its, err := d.Iterations(ctx, "run-1")
	if err != nil {
		t.Fatalf("Iterations: %v", err)
	}
	if len(its) != 1 || its[0].Action != "correct" || its[0].Issues != 1 || its[0].Passed {
		t.Fatalf("iterations = %+v", its)
	}
	var fb feedback.Feedback
	if err := json.Unmarshal(its[0].Feedback, &fb); err != nil {
		t.Fatalf("feedback json: %v", err)
	}
	if len(fb) != 1 || fb[0].SuggestedFix != "delete-line" {
		t.Errorf("feedback = %+v", fb)
	}

	stages, err := d.StageResults(ctx, "run-1", 1)
	if err != nil {
		t.Fatalf("StageResults: %v", err)
	}
	if len(stages) != 2 || stages[0].Stage != "syntax" || stages[1].Stage != "quality" {
		t.Fatalf("stages = %+v", stages)
	}
	if stages[0].DurationMs != 1500 || stages[0].Passed || !stages[1].Passed || stages[1].Warnings != 1 {
		t.Errorf("stage rows = %+v", stages)
	}
}

func TestRecordIterationUnknownRun(t *testing.T) {
	d := testDB(t)
	if err := d.RecordIteration(context.Background(), "ghost", testRecord(1, iterate.ActionAccept)); err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestFinishUnknownRun(t *testing.T) {
	d := testDB(t)
	err := d.FinishRun(context.Background(), "ghost", &iterate.Outcome{Status: iterate.StateAccepted})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("FinishRun error = %v, want ErrNotFound", err)
	}
	if _, err := d.GetRun(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun error = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range []string{"blog", "shop", "blog"} {
		run := iterate.Run{ID: string(rune('a' + i)), Contract: c, MaxIterations: 3, Policy: iterate.AllStages, Started: base.Add(time.Duration(i) * time.Hour)}
		if err := d.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.FinishRun(ctx, "a", &iterate.Outcome{Status: iterate.StateAccepted}); err != nil {
		t.Fatal(err)
	}

	all, err := d.ListRuns(ctx, "", "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("ListRuns order = %+v", all)
	}

	blog, err := d.ListRuns(ctx, "blog", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(blog) != 2 {
		t.Errorf("blog runs = %d, want 2", len(blog))
	}

	running, err := d.ListRuns(ctx, "blog", "running", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].ID != "c" {
		t.Errorf("running blog runs = %+v", running)
	}

	limited, err := d.ListRuns(ctx, "", "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d rows", len(limited))
	}
}
