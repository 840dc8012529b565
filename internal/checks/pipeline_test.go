package checks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/contract/contracttest"
)

// fakeStage returns canned findings and records what it saw.
type fakeStage struct {
	name     string
	critical bool
	errs     []Diagnostic
	err      error
	panicVal any
	seen     *[]string
	prior    *int
}

func (f fakeStage) Name() string   { return f.name }
func (f fakeStage) Critical() bool { return f.critical }

func (f fakeStage) Run(_ context.Context, _ *contract.Contract, _ artifact.Code, prior []StageResult) (StageResult, error) {
	if f.seen != nil {
		*f.seen = append(*f.seen, f.name)
	}
	if f.prior != nil {
		*f.prior = len(prior)
	}
	if f.panicVal != nil {
		panic(f.panicVal)
	}
	if f.err != nil {
		return StageResult{}, f.err
	}
	// Stage and Passed are normalized by the pipeline.
	return StageResult{Stage: "ignored", Passed: true, Errors: f.errs}, nil
}

func TestPipelineRunsEveryStageInOrder(t *testing.T) {
	var seen []string
	var priorAtRuntime int
	stages := []Stage{
		fakeStage{name: StageSyntax, critical: true, seen: &seen, errs: []Diagnostic{{Kind: KindSyntax, Message: "bad"}}},
		fakeStage{name: StageAssertions, critical: true, seen: &seen},
		fakeStage{name: StageStatic, seen: &seen},
		fakeStage{name: StageTests, seen: &seen},
		fakeStage{name: StageQuality, seen: &seen},
		fakeStage{name: StageSecurity, seen: &seen},
		fakeStage{name: StageRuntime, seen: &seen, prior: &priorAtRuntime},
	}
	p, err := NewPipeline(stages)
	require.NoError(t, err)

	res := p.Run(context.Background(), contracttest.Sample(), artifact.Code{})

	assert.Equal(t, CanonicalOrder, seen, "a failing critical stage must not stop later stages")
	assert.Equal(t, CanonicalOrder, p.Stages())
	assert.Equal(t, 6, priorAtRuntime)
	require.Len(t, res.Stages, 7)
	assert.False(t, res.Passed)
	assert.Equal(t, StageSyntax, res.Stages[0].Stage)
	assert.False(t, res.Stages[0].Passed, "Passed follows the errors")
	assert.True(t, res.Stages[0].Critical)
	assert.Equal(t, Summary{PassedStages: 6, TotalStages: 7, TotalErrors: 1}, res.Summary)
}

func TestPipelineAdvisoryFailureStillPasses(t *testing.T) {
	p, err := NewPipeline([]Stage{
		fakeStage{name: StageSyntax, critical: true},
		fakeStage{name: StageQuality, errs: []Diagnostic{{Kind: KindQuality, Message: "too long"}}},
	})
	require.NoError(t, err)

	res := p.Run(context.Background(), contracttest.Sample(), artifact.Code{})
	assert.True(t, res.Passed)
	assert.False(t, res.AllPassed())

	q, ok := res.Stage(StageQuality)
	require.True(t, ok)
	assert.False(t, q.Passed)
}

func TestPipelineIsolatesStageFailures(t *testing.T) {
	p, err := NewPipeline([]Stage{
		fakeStage{name: StageSyntax, critical: true, panicVal: "nil map"},
		fakeStage{name: StageStatic, err: errors.New("loader exploded")},
		fakeStage{name: StageSecurity},
	})
	require.NoError(t, err)

	res := p.Run(context.Background(), contracttest.Sample(), artifact.Code{})
	require.Len(t, res.Stages, 3)

	syntax := res.Stages[0]
	assert.False(t, syntax.Passed)
	require.Len(t, syntax.Errors, 1)
	assert.Equal(t, KindStageFailure, syntax.Errors[0].Kind)
	assert.Contains(t, syntax.Errors[0].Message, "nil map")

	static := res.Stages[1]
	assert.False(t, static.Passed)
	assert.Contains(t, static.Errors[0].Message, "loader exploded")

	assert.True(t, res.Stages[2].Passed)
	assert.False(t, res.Passed, "a panicking critical stage fails the run")
}

func TestNewPipelineRejectsBadStageLists(t *testing.T) {
	_, err := NewPipeline([]Stage{
		fakeStage{name: StageTests},
		fakeStage{name: StageSyntax},
	})
	assert.ErrorContains(t, err, `"syntax" must run before "tests"`)

	_, err = NewPipeline([]Stage{fakeStage{name: "lint"}, fakeStage{name: "lint"}})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewPipeline([]Stage{nil})
	assert.Error(t, err)

	p, err := NewPipeline([]Stage{
		fakeStage{name: "custom"},
		fakeStage{name: StageSyntax},
		fakeStage{name: "another"},
		fakeStage{name: StageRuntime},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"custom", StageSyntax, "another", StageRuntime}, p.Stages())
}

func TestDefaultStagesAreCanonical(t *testing.T) {
	stages := DefaultStages(Options{})
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	assert.Equal(t, CanonicalOrder, names)
	assert.True(t, stages[0].Critical())
	assert.True(t, stages[1].Critical())
	for _, s := range stages[2:] {
		assert.False(t, s.Critical(), s.Name())
	}
	_, err := NewPipeline(stages)
	assert.NoError(t, err)
}

func TestPipelineResultJSON(t *testing.T) {
	res := summarize([]StageResult{NewStageResult(StageSyntax, true, nil, nil)})
	out, err := res.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"stage": "syntax"`)
	assert.Contains(t, out, `"passed": true`)
}
