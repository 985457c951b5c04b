package settlement

import "fmt"

// State is a settlement's position in its lifecycle. Progress only moves
// forward; failure states are terminal.
type State string

const (
	StateInit                State = "INIT"
	StateBurnConfirmed       State = "BURN_CONFIRMED"
	StateAwaitingAttestation State = "AWAITING_ATTESTATION"
	StateAttested            State = "ATTESTED"
	StateMinted              State = "MINTED"
	StateSettled             State = "SETTLED"
	StateFailed              State = "FAILED"
	StateTimedOut            State = "TIMED_OUT"
)

// transitions is the set of legal state transitions.
var transitions = map[State][]State{
	StateInit:                {StateBurnConfirmed, StateFailed},
	StateBurnConfirmed:       {StateAwaitingAttestation, StateFailed},
	StateAwaitingAttestation: {StateAttested, StateTimedOut, StateFailed},
	StateAttested:            {StateMinted, StateFailed},
	StateMinted:              {StateSettled, StateFailed},
	StateSettled:             {},
	StateFailed:              {},
	StateTimedOut:            {},
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateTimedOut
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// machine tracks the state of one running settlement and rejects illegal
// transitions.
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: StateInit}
}

func (m *machine) advance(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("illegal settlement transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}
