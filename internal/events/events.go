// Package events publishes run progress to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/iterate"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// RunStarted is published on <prefix>.run.started.
type RunStarted struct {
	RunID         string    `json:"run_id"`
	Contract      string    `json:"contract"`
	Targets       []string  `json:"targets"`
	MaxIterations int       `json:"max_iterations"`
	Policy        string    `json:"policy"`
	Time          time.Time `json:"time"`
}

// Iteration is published on <prefix>.run.iteration.
type Iteration struct {
	RunID      string    `json:"run_id"`
	Contract   string    `json:"contract"`
	Attempt    int       `json:"attempt"`
	Action     string    `json:"action"`
	Passed     bool      `json:"passed"`
	Errors     int       `json:"errors"`
	Warnings   int       `json:"warnings"`
	Issues     int       `json:"issues"`
	Digest     string    `json:"digest"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	Time       time.Time `json:"time"`
}

// RunFinished is published on <prefix>.run.finished.
type RunFinished struct {
	RunID       string    `json:"run_id"`
	Contract    string    `json:"contract"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	FinalDigest string    `json:"final_digest"`
	Time        time.Time `json:"time"`
}

// Publisher sends run events. A Publisher with no connection drops every
// event.
type Publisher struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// New returns a publisher over conn. An empty prefix becomes "forge".
func New(conn Conn, prefix string, log zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = "forge"
	}
	return &Publisher{conn: conn, prefix: prefix, log: log}
}

// Connect dials url. If the server is unreachable it logs a warning and
// returns a no-op publisher, so runs never fail on a missing broker.
func Connect(url, prefix string, log zerolog.Logger) *Publisher {
	nc, err := nats.Connect(url, nats.Name("forge"))
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("nats connection failed, events disabled")
		return New(nil, prefix, log)
	}
	p := New(nc, prefix, log)
	p.nc = nc
	log.Debug().Str("url", url).Str("prefix", p.prefix).Msg("nats connected")
	return p
}

// Close drains the connection opened by Connect.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("nats drain")
	}
}

// Subject returns the full subject for a run event name.
func (p *Publisher) Subject(name string) string {
	return p.prefix + ".run." + name
}

func (p *Publisher) publish(name string, v any) error {
	if p.conn == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	subject := p.Subject(name)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// RunStarted implements iterate.Observer.
func (p *Publisher) RunStarted(_ context.Context, run iterate.Run) error {
	return p.publish("started", RunStarted{
		RunID:         run.ID,
		Contract:      run.Contract,
		Targets:       run.Targets,
		MaxIterations: run.MaxIterations,
		Policy:        string(run.Policy),
		Time:          run.Started,
	})
}

// IterationRecorded implements iterate.Observer.
func (p *Publisher) IterationRecorded(_ context.Context, run iterate.Run, rec iterate.Record) error {
	return p.publish("iteration", Iteration{
		RunID:      run.ID,
		Contract:   run.Contract,
		Attempt:    rec.Attempt,
		Action:     string(rec.Action),
		Passed:     rec.Result.Passed,
		Errors:     rec.Result.Summary.TotalErrors,
		Warnings:   rec.Result.Summary.TotalWarnings,
		Issues:     rec.Feedback.Count(),
		Digest:     rec.Code.Digest(),
		Diagnostic: rec.Diagnostic,
		Time:       rec.Finished,
	})
}

// RunFinished implements iterate.Observer.
func (p *Publisher) RunFinished(_ context.Context, run iterate.Run, out *iterate.Outcome) error {
	return p.publish("finished", RunFinished{
		RunID:       run.ID,
		Contract:    run.Contract,
		Status:      string(out.Status),
		Attempts:    len(out.History),
		FinalDigest: out.FinalCode.Digest(),
		Time:        out.Finished,
	})
}
