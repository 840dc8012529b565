// Package store keeps run history on disk: one directory per run holding a
// run.json summary and, per attempt, the pipeline result, the feedback and a
// snapshot of the code that was validated.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/feedback"
	"github.com/lucasnoah/contractforge/internal/fsutil"
	"github.com/lucasnoah/contractforge/internal/iterate"
)

// ErrNotFound is returned for unknown runs and attempts.
var ErrNotFound = errors.New("not found")

// Store manages run history under a base directory.
type Store struct {
	baseDir string
	now     func() time.Time
}

// New creates a Store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.runDir(id), "run.json")
}

func (s *Store) attemptDir(id string, attempt int) string {
	return filepath.Join(s.runDir(id), "attempts", fmt.Sprintf("attempt-%d", attempt))
}

// Create writes the initial state of a run.
func (s *Store) Create(run iterate.Run) (*RunState, error) {
	if run.ID == "" || filepath.Base(run.ID) != run.ID {
		return nil, fmt.Errorf("invalid run id %q", run.ID)
	}
	if _, err := os.Stat(s.runDir(run.ID)); err == nil {
		return nil, fmt.Errorf("run %s already exists", run.ID)
	}
	now := s.now().UTC()
	rs := &RunState{
		ID:            run.ID,
		Contract:      run.Contract,
		Targets:       run.Targets,
		MaxIterations: run.MaxIterations,
		Policy:        run.Policy,
		Status:        StatusRunning,
		Attempts:      []AttemptSummary{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := fsutil.WriteJSON(s.runPath(run.ID), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Get reads the state of a run.
func (s *Store) Get(id string) (*RunState, error) {
	var rs RunState
	if err := fsutil.ReadJSON(s.runPath(id), &rs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &rs, nil
}

// Update performs a read-modify-write of a run's state.
func (s *Store) Update(id string, fn func(*RunState)) error {
	rs, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(rs)
	rs.UpdatedAt = s.now().UTC()
	return fsutil.WriteJSON(s.runPath(id), rs)
}

// List returns all runs, oldest first, optionally filtered by status. Pass
// "" to return every run.
func (s *Store) List(statusFilter string) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // not a run directory
		}
		if statusFilter == "" || rs.Status == statusFilter {
			runs = append(runs, *rs)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return os.RemoveAll(s.runDir(id))
}

// SaveAttempt writes the artifacts of one attempt and appends its summary.
func (s *Store) SaveAttempt(id string, rec iterate.Record) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	dir := s.attemptDir(id, rec.Attempt)
	if err := fsutil.WriteJSON(filepath.Join(dir, "result.json"), rec.Result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, "feedback.json"), rec.Feedback); err != nil {
		return fmt.Errorf("write feedback: %w", err)
	}
	if err := fsutil.WriteAtomic(filepath.Join(dir, "feedback.md"), []byte(rec.Feedback.Render()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write feedback: %w", err)
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, "code.json"), rec.Code); err != nil {
		return fmt.Errorf("write code: %w", err)
	}
	return s.Update(id, func(rs *RunState) {
		rs.Attempts = append(rs.Attempts, AttemptSummary{
			Attempt:    rec.Attempt,
			Action:     rec.Action,
			Passed:     rec.Result.Passed,
			Summary:    rec.Result.Summary,
			Issues:     rec.Feedback.Count(),
			Digest:     rec.Code.Digest(),
			Diagnostic: rec.Diagnostic,
			Duration:   rec.Finished.Sub(rec.Started).String(),
		})
	})
}

// Finish records the terminal status and the final code of a run.
func (s *Store) Finish(id string, out *iterate.Outcome) error {
	if err := fsutil.WriteJSON(filepath.Join(s.runDir(id), "final.json"), out.FinalCode); err != nil {
		return fmt.Errorf("write final code: %w", err)
	}
	return s.Update(id, func(rs *RunState) {
		rs.Status = string(out.Status)
		rs.FinalDigest = out.FinalCode.Digest()
	})
}

// Result reads the pipeline result of an attempt.
func (s *Store) Result(id string, attempt int) (*checks.PipelineResult, error) {
	var res checks.PipelineResult
	if err := s.readAttempt(id, attempt, "result.json", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Feedback reads the feedback of an attempt.
func (s *Store) Feedback(id string, attempt int) (feedback.Feedback, error) {
	var fb feedback.Feedback
	if err := s.readAttempt(id, attempt, "feedback.json", &fb); err != nil {
		return nil, err
	}
	return fb, nil
}

// Code reads the code validated in an attempt. Attempt 0 means the final
// code of the run.
func (s *Store) Code(id string, attempt int) (artifact.Code, error) {
	var code artifact.Code
	if attempt == 0 {
		err := fsutil.ReadJSON(filepath.Join(s.runDir(id), "final.json"), &code)
		if errors.Is(err, fs.ErrNotExist) {
			return artifact.Code{}, fmt.Errorf("final code of run %s: %w", id, ErrNotFound)
		}
		return code, err
	}
	err := s.readAttempt(id, attempt, "code.json", &code)
	return code, err
}

func (s *Store) readAttempt(id string, attempt int, name string, v any) error {
	err := fsutil.ReadJSON(filepath.Join(s.attemptDir(id, attempt), name), v)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("attempt %d of run %s: %w", attempt, id, ErrNotFound)
	}
	return err
}

// Observer records run progress into the store.
func (s *Store) Observer() iterate.Observer {
	return observer{s}
}

type observer struct{ s *Store }

func (o observer) RunStarted(_ context.Context, run iterate.Run) error {
	_, err := o.s.Create(run)
	return err
}

func (o observer) IterationRecorded(_ context.Context, run iterate.Run, rec iterate.Record) error {
	return o.s.SaveAttempt(run.ID, rec)
}

func (o observer) RunFinished(_ context.Context, run iterate.Run, out *iterate.Outcome) error {
	return o.s.Finish(run.ID, out)
}
