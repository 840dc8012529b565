package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/feedback"
	"github.com/lucasnoah/contractforge/internal/store"
)

// ---- view models ----

type DashboardData struct {
	Runs   []RunRow
	Counts map[string]int
	Status string
}

type RunRow struct {
	ID         string
	Contract   string
	Status     string
	Attempts   int
	Budget     int
	StartedAgo string
}

type RunDetailData struct {
	Run  *store.RunState
	Last string
}

type AttemptDetailData struct {
	RunID    string
	Contract string
	Attempt  int
	Result   *checks.PipelineResult
	Feedback feedback.Feedback
	Rendered string
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func (s *Server) notFoundOr500(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// ---- Dashboard ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	runs, err := s.store.List(status)
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}

	data := DashboardData{Counts: make(map[string]int), Status: status}
	// newest first
	for i := len(runs) - 1; i >= 0; i-- {
		rs := runs[i]
		data.Counts[rs.Status]++
		data.Runs = append(data.Runs, RunRow{
			ID:         rs.ID,
			Contract:   rs.Contract,
			Status:     rs.Status,
			Attempts:   len(rs.Attempts),
			Budget:     rs.MaxIterations + 1,
			StartedAgo: relTime(rs.CreatedAt),
		})
	}

	if err := s.dashboardTmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- Run Detail ----

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request, id string) {
	rs, err := s.store.Get(id)
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}
	data := RunDetailData{Run: rs}
	if n := len(rs.Attempts); n > 0 {
		data.Last = rs.Attempts[n-1].Diagnostic
	}
	if err := s.runTmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- Attempt Detail ----

func (s *Server) handleAttemptDetail(w http.ResponseWriter, r *http.Request, id, attemptStr string) {
	attempt, err := strconv.Atoi(attemptStr)
	if err != nil || attempt < 1 {
		http.Error(w, "invalid attempt number", http.StatusBadRequest)
		return
	}
	rs, err := s.store.Get(id)
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}
	res, err := s.store.Result(id, attempt)
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}
	fb, _ := s.store.Feedback(id, attempt)

	data := AttemptDetailData{
		RunID:    id,
		Contract: rs.Contract,
		Attempt:  attempt,
		Result:   res,
		Feedback: fb,
		Rendered: fb.Render(),
	}
	if err := s.attemptTmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- Code (raw JSON) ----

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request, id, attemptStr string) {
	attempt, err := strconv.Atoi(attemptStr)
	if err != nil || attempt < 0 {
		http.Error(w, "invalid attempt number", http.StatusBadRequest)
		return
	}
	code, err := s.store.Code(id, attempt)
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}
	writeJSON(w, code)
}

// ---- API ----

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List(r.URL.Query().Get("status"))
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.RunState{}
	}
	writeJSON(w, runs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
