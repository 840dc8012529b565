package store

import (
	"time"

	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/iterate"
)

// RunState is the persisted summary of one run.
type RunState struct {
	ID            string           `json:"id"`
	Contract      string           `json:"contract"`
	Targets       []string         `json:"targets"`
	MaxIterations int              `json:"max_iterations"`
	Policy        iterate.Policy   `json:"policy"`
	Status        string           `json:"status"` // "running" or a terminal iterate.State
	Attempts      []AttemptSummary `json:"attempts"`
	FinalDigest   string           `json:"final_digest,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// AttemptSummary is the per-attempt line of a run.
type AttemptSummary struct {
	Attempt    int            `json:"attempt"`
	Action     iterate.Action `json:"action"`
	Passed     bool           `json:"passed"`
	Summary    checks.Summary `json:"summary"`
	Issues     int            `json:"issues"`
	Digest     string         `json:"digest"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	Duration   string         `json:"duration"`
}

// StatusRunning marks a run that has not reached a terminal state.
const StatusRunning = "running"
