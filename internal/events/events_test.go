package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/iterate"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []message
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func testRun() iterate.Run {
	return iterate.Run{
		ID: "run-1", Contract: "blog", Targets: []string{"service"}, MaxIterations: 3,
		Policy: iterate.CriticalOnly, Started: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublishesRunLifecycle(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn, "ci.forge", zerolog.Nop())
	ctx := context.Background()
	run := testRun()
	code, err := artifact.New([]artifact.File{{Path: "service/router.go", Content: "package blog\n"}}, artifact.Meta{})
	require.NoError(t, err)

	require.NoError(t, p.RunStarted(ctx, run))
	rec := iterate.Record{
		Attempt: 1,
		Code:    code,
		Result:  checks.PipelineResult{Passed: true, Summary: checks.Summary{TotalWarnings: 2}},
		Action:  iterate.ActionAccept,
	}
	require.NoError(t, p.IterationRecorded(ctx, run, rec))
	out := &iterate.Outcome{RunID: run.ID, Status: iterate.StateAccepted, FinalCode: code, History: []iterate.Record{rec}}
	require.NoError(t, p.RunFinished(ctx, run, out))

	require.Len(t, conn.msgs, 3)
	assert.Equal(t, "ci.forge.run.started", conn.msgs[0].subject)
	assert.Equal(t, "ci.forge.run.iteration", conn.msgs[1].subject)
	assert.Equal(t, "ci.forge.run.finished", conn.msgs[2].subject)

	var started RunStarted
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &started))
	assert.Equal(t, "blog", started.Contract)
	assert.Equal(t, "critical", started.Policy)

	var it Iteration
	require.NoError(t, json.Unmarshal(conn.msgs[1].data, &it))
	assert.Equal(t, 1, it.Attempt)
	assert.Equal(t, "accept", it.Action)
	assert.Equal(t, 2, it.Warnings)
	assert.Equal(t, code.Digest(), it.Digest)

	var fin RunFinished
	require.NoError(t, json.Unmarshal(conn.msgs[2].data, &fin))
	assert.Equal(t, "accepted", fin.Status)
	assert.Equal(t, 1, fin.Attempts)
}

func TestDefaultPrefix(t *testing.T) {
	p := New(&fakeConn{}, "", zerolog.Nop())
	assert.Equal(t, "forge.run.started", p.Subject("started"))
}

func TestPublishErrorIsReturned(t *testing.T) {
	p := New(&fakeConn{err: errors.New("connection closed")}, "forge", zerolog.Nop())
	err := p.RunStarted(context.Background(), testRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forge.run.started")
}

func TestNoConnDropsEvents(t *testing.T) {
	p := New(nil, "forge", zerolog.Nop())
	assert.NoError(t, p.RunStarted(context.Background(), testRun()))
	p.Close()
}

func TestConnectUnreachableIsNoop(t *testing.T) {
	p := Connect("nats://127.0.0.1:1", "forge", zerolog.Nop())
	assert.NoError(t, p.RunStarted(context.Background(), testRun()))
	p.Close()
}
