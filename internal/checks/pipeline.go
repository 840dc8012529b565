package checks

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/contract"
)

// Canonical stage names, in execution order.
const (
	StageSyntax     = "syntax"
	StageAssertions = "assertions"
	StageStatic     = "static-analysis"
	StageTests      = "tests"
	StageQuality    = "quality"
	StageSecurity   = "security"
	StageRuntime    = "runtime"
)

// CanonicalOrder lists the built-in stages in the order they must run.
var CanonicalOrder = []string{
	StageSyntax, StageAssertions, StageStatic, StageTests, StageQuality, StageSecurity, StageRuntime,
}

// Stage is one verification step. Run receives the results of the stages
// that ran before it. Returned errors are recorded as a failed result.
type Stage interface {
	Name() string
	Critical() bool
	Run(ctx context.Context, c *contract.Contract, code artifact.Code, prior []StageResult) (StageResult, error)
}

// Pipeline runs a fixed list of stages. Every stage runs on every call,
// whatever earlier stages reported.
type Pipeline struct {
	stages []Stage
	log    zerolog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// NewPipeline builds a pipeline. Built-in stages must keep their canonical
// relative order; other stages may appear anywhere. Names must be unique.
func NewPipeline(stages []Stage, opts ...PipelineOption) (*Pipeline, error) {
	rank := make(map[string]int, len(CanonicalOrder))
	for i, n := range CanonicalOrder {
		rank[n] = i
	}
	seen := make(map[string]bool, len(stages))
	last := -1
	lastName := ""
	for _, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("nil stage")
		}
		name := s.Name()
		if seen[name] {
			return nil, fmt.Errorf("duplicate stage %q", name)
		}
		seen[name] = true
		if r, ok := rank[name]; ok {
			if r < last {
				return nil, fmt.Errorf("stage %q must run before %q", name, lastName)
			}
			last, lastName = r, name
		}
	}
	p := &Pipeline{stages: append([]Stage(nil), stages...), log: zerolog.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

// Run executes every stage in order and aggregates the results.
func (p *Pipeline) Run(ctx context.Context, c *contract.Contract, code artifact.Code) PipelineResult {
	results := make([]StageResult, 0, len(p.stages))
	for _, s := range p.stages {
		prior := append([]StageResult(nil), results...)
		start := time.Now()
		res := p.runStage(ctx, s, c, code, prior)
		res.Duration = time.Since(start)

		ev := p.log.Debug()
		if !res.Passed {
			ev = p.log.Info()
		}
		ev.Str("stage", res.Stage).
			Bool("critical", res.Critical).
			Bool("passed", res.Passed).
			Int("errors", len(res.Errors)).
			Int("warnings", len(res.Warnings)).
			Dur("duration", res.Duration).
			Msg("stage finished")

		results = append(results, res)
	}
	return summarize(results)
}

// runStage isolates one stage: errors and panics become a failed result.
func (p *Pipeline) runStage(ctx context.Context, s Stage, c *contract.Contract, code artifact.Code, prior []StageResult) (res StageResult) {
	name, critical := s.Name(), s.Critical()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("stage", name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("stage panicked")
			res = failed(name, critical, fmt.Sprintf("stage panicked: %v", r))
		}
	}()

	res, err := s.Run(ctx, c, code, prior)
	if err != nil {
		p.log.Warn().Err(err).Str("stage", name).Msg("stage error")
		return failed(name, critical, fmt.Sprintf("stage error: %v", err))
	}
	res.Stage = name
	res.Critical = critical
	res.Passed = len(res.Errors) == 0
	return res
}

func failed(name string, critical bool, msg string) StageResult {
	return NewStageResult(name, critical, []Diagnostic{{Kind: KindStageFailure, Message: msg}}, nil)
}
