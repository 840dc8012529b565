package iterate

import (
	"fmt"

	"github.com/rs/zerolog"
)

// State is a step of the iteration state machine.
type State string

const (
	StateInit       State = "init"
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateCorrecting State = "correcting"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
	StateStuck      State = "stuck"
	StateEscalated  State = "escalated"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Event drives a transition.
type Event string

const (
	EventStart            Event = "start"
	EventGenerated        Event = "generated"
	EventPassed           Event = "passed"
	EventFailed           Event = "failed"
	EventBudgetSpent      Event = "budget_spent"
	EventCorrected        Event = "corrected"
	EventNoProgress       Event = "no_progress"
	EventCorrectionFailed Event = "correction_failed"
	EventCancelled        Event = "cancelled"
)

// transitions is the complete state machine. A pair missing from the table
// is an illegal transition.
var transitions = map[State]map[Event]State{
	StateInit: {
		EventStart: StateGenerating,
	},
	StateGenerating: {
		EventGenerated: StateValidating,
	},
	StateValidating: {
		EventPassed:      StateAccepted,
		EventBudgetSpent: StateExhausted,
		EventFailed:      StateCorrecting,
		EventCancelled:   StateEscalated,
	},
	StateCorrecting: {
		EventCorrected:        StateValidating,
		EventNoProgress:       StateStuck,
		EventCorrectionFailed: StateEscalated,
		EventCancelled:        StateEscalated,
	},
	StateAccepted:  {},
	StateExhausted: {},
	StateStuck:     {},
	StateEscalated: {},
}

// TransitionError reports an event that is not legal in the current state.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %q in state %q", e.Event, e.From)
}

type machine struct {
	state State
	log   zerolog.Logger
}

func newMachine(log zerolog.Logger) *machine {
	return &machine{state: StateInit, log: log}
}

func (m *machine) fire(ev Event) error {
	next, ok := transitions[m.state][ev]
	if !ok {
		return &TransitionError{From: m.state, Event: ev}
	}
	m.log.Debug().Str("from", string(m.state)).Str("event", string(ev)).Str("to", string(next)).Msg("transition")
	m.state = next
	return nil
}
