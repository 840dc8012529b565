package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/feedback"
	"github.com/lucasnoah/contractforge/internal/iterate"
	"github.com/lucasnoah/contractforge/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s := store.New(t.TempDir())
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("forge_runs_started_total 1\n"))
	})
	return NewServer(s, metrics, zerolog.Nop()), s
}

func recordRun(t *testing.T, s *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	obs := s.Observer()
	run := iterate.Run{ID: id, Contract: "blog", MaxIterations: 2, Policy: iterate.CriticalOnly, Started: time.Now().Add(-2 * time.Hour)}
	if err := obs.RunStarted(ctx, run); err != nil {
		t.Fatal(err)
	}
	code, err := artifact.New([]artifact.File{{Path: "service/router.go", Content: "package blog\n"}}, artifact.Meta{})
	if err != nil {
		t.Fatal(err)
	}
	res := checks.PipelineResult{
		Stages: []checks.StageResult{checks.NewStageResult("syntax", true, []checks.Diagnostic{
			{Kind: checks.KindSyntax, File: "service/router.go", Line: 3, Message: "missing brace"},
		}, nil)},
		Summary: checks.Summary{TotalStages: 1, TotalErrors: 1},
	}
	rec := iterate.Record{Attempt: 1, Code: code, Result: res, Feedback: feedback.Generate(res), Action: iterate.ActionExhaust}
	if err := obs.IterationRecorded(ctx, run, rec); err != nil {
		t.Fatal(err)
	}
	out := &iterate.Outcome{RunID: id, Status: iterate.StateExhausted, FinalCode: code, History: []iterate.Record{rec}}
	if err := obs.RunFinished(ctx, run, out); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDashboardListsRuns(t *testing.T) {
	srv, s := newTestServer(t)
	recordRun(t, s, "run-1")

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"/run/run-1", "blog", "exhausted", "just now"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestDashboardEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv, "/")
	if !strings.Contains(rec.Body.String(), "No runs recorded.") {
		t.Errorf("expected empty state, got:\n%s", rec.Body.String())
	}
}

func TestRunAndAttemptDetail(t *testing.T) {
	srv, s := newTestServer(t)
	recordRun(t, s, "run-1")

	rec := get(t, srv, "/run/run-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/run/run-1/attempt/1") {
		t.Errorf("run page missing attempt link")
	}

	rec = get(t, srv, "/run/run-1/attempt/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("attempt status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "syntax") || !strings.Contains(body, "missing brace") {
		t.Errorf("attempt page missing stage or feedback:\n%s", body)
	}
}

func TestCodeEndpoints(t *testing.T) {
	srv, s := newTestServer(t)
	recordRun(t, s, "run-1")

	for _, path := range []string{"/run/run-1/code", "/run/run-1/attempt/1/code"} {
		rec := get(t, srv, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		var code artifact.Code
		if err := json.Unmarshal(rec.Body.Bytes(), &code); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if len(code.Files) != 1 {
			t.Errorf("%s: files = %d, want 1", path, len(code.Files))
		}
	}
}

func TestNotFoundAndBadRequests(t *testing.T) {
	srv, s := newTestServer(t)
	recordRun(t, s, "run-1")

	cases := map[string]int{
		"/run/ghost":              http.StatusNotFound,
		"/run/run-1/attempt/9":    http.StatusNotFound,
		"/run/run-1/attempt/zero": http.StatusBadRequest,
		"/run/run-1/elsewhere":    http.StatusNotFound,
		"/nowhere":                http.StatusNotFound,
	}
	for path, want := range cases {
		if rec := get(t, srv, path); rec.Code != want {
			t.Errorf("%s status = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestAPIRuns(t *testing.T) {
	srv, s := newTestServer(t)

	rec := get(t, srv, "/api/runs")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty api = %q, want []", rec.Body.String())
	}

	recordRun(t, s, "run-1")
	rec = get(t, srv, "/api/runs?status=exhausted")
	var runs []store.RunState
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestMetricsMounted(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv, "/metrics")
	if !strings.Contains(rec.Body.String(), "forge_runs_started_total") {
		t.Errorf("metrics not served: %q", rec.Body.String())
	}
}

func TestRelTime(t *testing.T) {
	if got := relTime(time.Time{}); got != "" {
		t.Errorf("relTime(zero) = %q", got)
	}
	if got := relTime(time.Now().Add(-3 * 24 * time.Hour)); got != "3d ago" {
		t.Errorf("relTime(3d) = %q", got)
	}
}
