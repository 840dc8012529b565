// Package correct repairs generated code from validation feedback. Cheap
// deterministic fixers run first; whatever they cannot resolve goes to a
// generative collaborator, and optionally to a full regeneration.
package correct

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/feedback"
)

// DefaultTimeout bounds one collaborator call.
const DefaultTimeout = 2 * time.Minute

// Regenerator rebuilds code from the contract.
type Regenerator interface {
	Generate(c *contract.Contract, t contract.Target) (artifact.Code, error)
}

// Options tune a Corrector.
type Options struct {
	// Timeout bounds each collaborator call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Regenerate rebuilds the whole contract when blocking issues remain
	// after the other fixers.
	Regenerate bool
	Target     contract.Target
}

// Corrector turns feedback into a new Code.
type Corrector struct {
	contract *contract.Contract
	gen      Generative
	regen    Regenerator
	opts     Options
	log      zerolog.Logger
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithGenerative sets the collaborator. Without one only deterministic fixes
// apply.
func WithGenerative(g Generative) Option {
	return func(c *Corrector) { c.gen = g }
}

// WithRegenerator sets the generator used when Options.Regenerate is on.
func WithRegenerator(r Regenerator) Option {
	return func(c *Corrector) { c.regen = r }
}

// WithOptions replaces the options.
func WithOptions(o Options) Option {
	return func(c *Corrector) { c.opts = o }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Corrector) { c.log = l }
}

// New returns a corrector for code generated from ct.
func New(ct *contract.Contract, opts ...Option) *Corrector {
	c := &Corrector{contract: ct, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	if c.opts.Timeout <= 0 {
		c.opts.Timeout = DefaultTimeout
	}
	return c
}

// Correct returns a corrected copy of code. The input is never modified.
// Files no issue refers to are left alone unless regeneration kicks in.
func (c *Corrector) Correct(ctx context.Context, code artifact.Code, fb feedback.Feedback) (artifact.Code, error) {
	e := artifact.NewEdit(code)
	resolved := applyDeterministic(e, fb)
	if len(resolved) > 0 {
		c.log.Debug().Int("fixed", len(resolved)).Strs("files", e.Touched()).Msg("deterministic fixes applied")
	}

	var remaining feedback.Feedback
	for i, is := range fb {
		if !resolved[i] && is.Blocking() {
			remaining = append(remaining, is)
		}
	}

	if len(remaining) > 0 && c.gen != nil {
		if err := c.generative(ctx, e, remaining); err != nil {
			return artifact.Code{}, err
		}
		remaining = nil
	}

	meta := code.Meta
	meta.Origin = "correct"
	if len(remaining) > 0 && c.opts.Regenerate {
		if c.regen == nil {
			return artifact.Code{}, &CorrectionError{Op: "regenerate", Err: errors.New("no regenerator configured")}
		}
		next, err := c.regen.Generate(c.contract, c.opts.Target)
		if err != nil {
			return artifact.Code{}, &CorrectionError{Op: "regenerate", Err: err}
		}
		next.Meta.Origin = "regenerate"
		c.log.Info().Int("unresolved", len(remaining)).Msg("regenerated contract")
		return next, nil
	}

	out, err := e.Apply(meta)
	if err != nil {
		return artifact.Code{}, &CorrectionError{Op: "apply", Files: e.Touched(), Err: err}
	}
	return out, nil
}

// generative sends the remaining issues with their files to the
// collaborator and applies the reply to implicated files only.
func (c *Corrector) generative(ctx context.Context, e *artifact.Edit, issues feedback.Feedback) error {
	req := Request{Contract: c.contract, Feedback: issues, Files: make(map[string]string)}
	for _, p := range issues.Files() {
		content, _ := e.Content(p)
		req.Files[p] = content
	}
	if len(req.Files) == 0 {
		c.log.Debug().Int("issues", len(issues)).Msg("no implicated files; skipping collaborator")
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	start := time.Now()
	reply, err := c.gen.Correct(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.opts.Timeout, err)
		}
		return &CorrectionError{Op: "generative", Files: req.Paths(), Err: err}
	}

	applied := 0
	for path, content := range reply {
		if _, ok := req.Files[path]; !ok {
			c.log.Warn().Str("file", path).Msg("ignoring collaborator output for file without issues")
			continue
		}
		e.Set(path, content, artifact.ComponentOf(path))
		applied++
	}
	c.log.Info().
		Int("issues", len(issues)).
		Int("files", applied).
		Dur("duration", time.Since(start)).
		Msg("collaborator correction applied")
	return nil
}
