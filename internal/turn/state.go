package turn

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when the controller is asked to move to a
// state that is not reachable from its current one.
var ErrIllegalTransition = errors.New("turn: illegal state transition")

// State is the conversation state of one voice session.
type State int

const (
	// Idle is the state before the session opened.
	Idle State = iota

	// Listening means capture is active and utterances start turns.
	Listening

	// AwaitingReply means a chat request is in flight.
	AwaitingReply

	// Speaking means the assistant reply is being synthesized or played and
	// capture is suspended.
	Speaking

	// Closed is terminal.
	Closed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case AwaitingReply:
		return "awaiting_reply"
	case Speaking:
		return "speaking"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	Idle:          {Speaking, Listening, Closed},
	Listening:     {AwaitingReply, Closed},
	AwaitingReply: {Speaking, Listening, Closed},
	Speaking:      {Listening, Closed},
	Closed:        nil,
}

// CanTransition reports whether to is reachable from from.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition returns a wrapped ErrIllegalTransition when to is not
// reachable from from.
func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
