// Package iterate drives generated code through validation and correction
// until it is accepted or the run gives up.
package iterate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/feedback"
)

// Generator renders code from a contract.
type Generator interface {
	Generate(c *contract.Contract, t contract.Target) (artifact.Code, error)
}

// Validator runs the verification stages over code.
type Validator interface {
	Run(ctx context.Context, c *contract.Contract, code artifact.Code) checks.PipelineResult
}

// Corrector produces a repaired copy of code.
type Corrector interface {
	Correct(ctx context.Context, code artifact.Code, fb feedback.Feedback) (artifact.Code, error)
}

// Policy decides when a pipeline result is good enough.
type Policy string

const (
	// CriticalOnly accepts once every critical stage passed. Advisory
	// stages may still fail.
	CriticalOnly Policy = "critical"
	// AllStages accepts only when every stage passed.
	AllStages Policy = "all"
)

// ParsePolicy maps a config value to a Policy. Empty means CriticalOnly.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", CriticalOnly:
		return CriticalOnly, nil
	case AllStages:
		return AllStages, nil
	}
	return "", fmt.Errorf("unknown acceptance policy %q (want %q or %q)", s, CriticalOnly, AllStages)
}

func (p Policy) accepts(r checks.PipelineResult) bool {
	if p == AllStages {
		return r.AllPassed()
	}
	return r.Passed
}

// Action is what the manager did at the end of an attempt.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionCorrect  Action = "correct"
	ActionExhaust  Action = "exhaust"
	ActionEscalate Action = "escalate"
	ActionStuck    Action = "stuck"
)

// Record is one attempt. Records are appended, never removed.
type Record struct {
	Attempt    int                   `json:"attempt"`
	Code       artifact.Code         `json:"code"`
	Result     checks.PipelineResult `json:"result"`
	Feedback   feedback.Feedback     `json:"feedback,omitempty"`
	Action     Action                `json:"action"`
	Diagnostic string                `json:"diagnostic,omitempty"`
	Started    time.Time             `json:"started"`
	Finished   time.Time             `json:"finished"`
}

// Run identifies one ValidateAndCorrect call for observers.
type Run struct {
	ID            string    `json:"id"`
	Contract      string    `json:"contract"`
	Targets       []string  `json:"targets"`
	MaxIterations int       `json:"max_iterations"`
	Policy        Policy    `json:"policy"`
	Started       time.Time `json:"started"`
}

// Outcome is the terminal result of a run. History is complete for every
// status.
type Outcome struct {
	RunID     string        `json:"run_id"`
	Contract  string        `json:"contract"`
	Status    State         `json:"status"`
	FinalCode artifact.Code `json:"final_code"`
	History   []Record      `json:"history"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
}

// Accepted reports whether the run converged.
func (o *Outcome) Accepted() bool { return o.Status == StateAccepted }

// Last returns the final record.
func (o *Outcome) Last() (Record, bool) {
	if len(o.History) == 0 {
		return Record{}, false
	}
	return o.History[len(o.History)-1], true
}

// Observer is told about run progress. Failures are logged and never stop a
// run.
type Observer interface {
	RunStarted(ctx context.Context, run Run) error
	IterationRecorded(ctx context.Context, run Run, rec Record) error
	RunFinished(ctx context.Context, run Run, out *Outcome) error
}

// Manager runs the generate, validate, correct loop for one contract at a
// time. A Manager holds no per-run state and may serve concurrent runs.
type Manager struct {
	gen       Generator
	validator Validator
	corrector Corrector
	policy    Policy
	observers []Observer
	log       zerolog.Logger
	now       func() time.Time
}

// NewManager wires the three collaborators. Options other than policy,
// observers, logger and clock are ignored here.
func NewManager(gen Generator, v Validator, c Corrector, opts ...Option) *Manager {
	s := newSettings(opts)
	return &Manager{
		gen:       gen,
		validator: v,
		corrector: c,
		policy:    s.policy,
		observers: s.observers,
		log:       s.log,
		now:       s.now,
	}
}

// Run validates c, generates code for t and iterates until a terminal state.
// A contract problem is returned as an error before any attempt is made.
// Every terminal state yields an Outcome.
func (m *Manager) Run(ctx context.Context, c *contract.Contract, t contract.Target, maxIterations int) (*Outcome, error) {
	if err := contract.Validate(c); err != nil {
		return nil, err
	}

	run := Run{
		ID:            uuid.NewString(),
		Contract:      c.Name,
		Targets:       t.Resolve(c).Names(),
		MaxIterations: maxIterations,
		Policy:        m.policy,
		Started:       m.now(),
	}
	log := m.log.With().Str("run_id", run.ID).Str("contract", c.Name).Logger()
	fsm := newMachine(log)
	if err := fsm.fire(EventStart); err != nil {
		return nil, err
	}

	code, err := m.gen.Generate(c, t)
	if err != nil {
		var ce *contract.ContractError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, fmt.Errorf("generating %s: %w", c.Name, err)
	}
	if err := fsm.fire(EventGenerated); err != nil {
		return nil, err
	}

	obsCtx := context.WithoutCancel(ctx)
	m.notify(log, "run_started", func(o Observer) error { return o.RunStarted(obsCtx, run) })
	log.Info().Int("files", len(code.Files)).Int("max_iterations", maxIterations).Msg("run started")

	out := &Outcome{RunID: run.ID, Contract: c.Name, Started: run.Started}
	finish := func(rec Record, ev Event) (*Outcome, error) {
		rec.Finished = m.now()
		out.History = append(out.History, rec)
		m.notify(log, "iteration_recorded", func(o Observer) error { return o.IterationRecorded(obsCtx, run, rec) })
		if err := fsm.fire(ev); err != nil {
			return nil, err
		}
		out.Status = fsm.state
		out.FinalCode = rec.Code
		out.Finished = rec.Finished
		m.notify(log, "run_finished", func(o Observer) error { return o.RunFinished(obsCtx, run, out) })
		log.Info().
			Str("status", string(out.Status)).
			Int("attempts", len(out.History)).
			Dur("duration", out.Finished.Sub(out.Started)).
			Msg("run finished")
		return out, nil
	}

	for attempt := 1; ; attempt++ {
		rec := Record{Attempt: attempt, Code: code, Started: m.now()}
		if err := ctx.Err(); err != nil {
			rec.Action = ActionEscalate
			rec.Diagnostic = fmt.Sprintf("cancelled before validation: %v", err)
			return finish(rec, EventCancelled)
		}

		rec.Result = m.validator.Run(context.WithoutCancel(ctx), c, code)
		alog := log.With().Int("attempt", attempt).Logger()
		alog.Info().
			Bool("passed", rec.Result.Passed).
			Int("errors", rec.Result.Summary.TotalErrors).
			Int("warnings", rec.Result.Summary.TotalWarnings).
			Msg("validation finished")

		if m.policy.accepts(rec.Result) {
			rec.Action = ActionAccept
			return finish(rec, EventPassed)
		}
		rec.Feedback = feedback.Generate(rec.Result)
		if attempt >= maxIterations {
			rec.Action = ActionExhaust
			rec.Diagnostic = fmt.Sprintf("%d issues remain after %d attempts", rec.Feedback.Count(), attempt)
			return finish(rec, EventBudgetSpent)
		}

		if err := fsm.fire(EventFailed); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			rec.Action = ActionEscalate
			rec.Diagnostic = fmt.Sprintf("cancelled before correction: %v", err)
			return finish(rec, EventCancelled)
		}

		next, err := m.corrector.Correct(context.WithoutCancel(ctx), code, rec.Feedback)
		if err != nil {
			alog.Warn().Err(err).Msg("correction failed")
			rec.Action = ActionEscalate
			rec.Diagnostic = err.Error()
			return finish(rec, EventCorrectionFailed)
		}
		if next.Equal(code) {
			alog.Warn().Int("issues", rec.Feedback.Count()).Msg("correction made no progress")
			rec.Action = ActionStuck
			rec.Diagnostic = "correction produced identical code"
			return finish(rec, EventNoProgress)
		}

		rec.Action = ActionCorrect
		rec.Finished = m.now()
		out.History = append(out.History, rec)
		m.notify(log, "iteration_recorded", func(o Observer) error { return o.IterationRecorded(obsCtx, run, rec) })
		if err := fsm.fire(EventCorrected); err != nil {
			return nil, err
		}
		alog.Info().Int("issues", rec.Feedback.Count()).Str("origin", next.Meta.Origin).Msg("code corrected")
		code = next
	}
}

func (m *Manager) notify(log zerolog.Logger, what string, call func(Observer) error) {
	for _, o := range m.observers {
		if err := call(o); err != nil {
			log.Warn().Err(err).Str("event", what).Str("observer", fmt.Sprintf("%T", o)).Msg("observer failed")
		}
	}
}
