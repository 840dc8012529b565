package iterate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/codegen"
	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/correct"
)

// Option configures ValidateAndCorrect and NewManager.
type Option func(*settings)

type settings struct {
	policy     Policy
	observers  []Observer
	log        zerolog.Logger
	now        func() time.Time
	stages     checks.Options
	generative correct.Generative
	correction correct.Options
	generator  Generator
	validator  Validator
	corrector  Corrector
}

func newSettings(opts []Option) *settings {
	s := &settings{policy: CriticalOnly, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithPolicy sets the acceptance policy. The default is CriticalOnly.
func WithPolicy(p Policy) Option {
	return func(s *settings) { s.policy = p }
}

// WithObservers adds run observers.
func WithObservers(o ...Observer) Option {
	return func(s *settings) { s.observers = append(s.observers, o...) }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithStageOptions configures the external commands of the built-in stages.
func WithStageOptions(o checks.Options) Option {
	return func(s *settings) { s.stages = o }
}

// WithGenerative sets the collaborator used for issues the deterministic
// fixers cannot resolve.
func WithGenerative(g correct.Generative) Option {
	return func(s *settings) { s.generative = g }
}

// WithCorrection sets the corrector options.
func WithCorrection(o correct.Options) Option {
	return func(s *settings) { s.correction = o }
}

// WithGenerator replaces the built-in code generator.
func WithGenerator(g Generator) Option {
	return func(s *settings) { s.generator = g }
}

// WithValidator replaces the built-in stage pipeline.
func WithValidator(v Validator) Option {
	return func(s *settings) { s.validator = v }
}

// WithCorrector replaces the built-in corrector.
func WithCorrector(c Corrector) Option {
	return func(s *settings) { s.corrector = c }
}

// ValidateAndCorrect generates code for c, validates it and corrects it until
// the acceptance policy holds, maxIterations attempts were made, correction
// stops making progress or correction fails.
func ValidateAndCorrect(ctx context.Context, c *contract.Contract, t contract.Target, maxIterations int, opts ...Option) (*Outcome, error) {
	s := newSettings(opts)

	gen := s.generator
	var regen correct.Regenerator
	if gen == nil {
		g, err := codegen.New(codegen.WithClock(s.now))
		if err != nil {
			return nil, fmt.Errorf("loading templates: %w", err)
		}
		gen, regen = g, g
	} else if r, ok := gen.(correct.Regenerator); ok {
		regen = r
	}

	v := s.validator
	if v == nil {
		p, err := checks.NewPipeline(checks.DefaultStages(s.stages), checks.WithLogger(s.log))
		if err != nil {
			return nil, err
		}
		v = p
	}

	corr := s.corrector
	if corr == nil {
		copts := s.correction
		copts.Target = t
		cos := []correct.Option{correct.WithOptions(copts), correct.WithLogger(s.log)}
		if s.generative != nil {
			cos = append(cos, correct.WithGenerative(s.generative))
		}
		if regen != nil {
			cos = append(cos, correct.WithRegenerator(regen))
		}
		corr = correct.New(c, cos...)
	}

	return NewManager(gen, v, corr, opts...).Run(ctx, c, t, maxIterations)
}
