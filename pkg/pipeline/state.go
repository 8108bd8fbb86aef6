package pipeline

import (
	"fmt"
	"strings"
)

// State is a run identity's position in the warmup → production lifecycle.
type State string

const (
	StateUninitialized       State = "uninitialized"
	StateWarmupStaged        State = "warmup_staged"
	StateWarmupSubmitted     State = "warmup_submitted"
	StateWarmupComplete      State = "warmup_complete"
	StateProductionStaged    State = "production_staged"
	StateProductionSubmitted State = "production_submitted"
	StateProductionComplete  State = "production_complete"
	StateFailed              State = "failed"
)

var transitions = map[State][]State{
	StateUninitialized:       {StateWarmupStaged},
	StateWarmupStaged:        {StateWarmupStaged, StateWarmupSubmitted},
	StateWarmupSubmitted:     {StateWarmupComplete},
	StateWarmupComplete:      {StateProductionStaged},
	StateProductionStaged:    {StateProductionStaged, StateProductionSubmitted},
	StateProductionSubmitted: {StateProductionComplete, StateProductionStaged},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateProductionComplete || s == StateFailed
}

// CanTransition reports whether from → to is allowed. Failed is reachable
// from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if st == StateFailed {
		return st, nil
	}
	if _, ok := transitions[st]; ok || st == StateProductionComplete {
		return st, nil
	}
	return "", fmt.Errorf("unknown pipeline state %q", s)
}
