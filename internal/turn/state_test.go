package turn

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	all := []State{Idle, Listening, AwaitingReply, Speaking, Closed}
	allowed := map[[2]State]bool{
		{Idle, Speaking}:           true,
		{Idle, Listening}:          true,
		{Idle, Closed}:             true,
		{Listening, AwaitingReply}: true,
		{Listening, Closed}:        true,
		{AwaitingReply, Speaking}:  true,
		{AwaitingReply, Listening}: true,
		{AwaitingReply, Closed}:    true,
		{Speaking, Listening}:      true,
		{Speaking, Closed}:         true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]State{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			err := checkTransition(from, to)
			if want && err != nil {
				t.Errorf("checkTransition(%s, %s) = %v, want nil", from, to, err)
			}
			if !want && !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("checkTransition(%s, %s) = %v, want ErrIllegalTransition", from, to, err)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	tests := map[State]string{
		Idle:          "idle",
		Listening:     "listening",
		AwaitingReply: "awaiting_reply",
		Speaking:      "speaking",
		Closed:        "closed",
		State(42):     "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
