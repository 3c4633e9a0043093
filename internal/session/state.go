package session

import "github.com/cockroachdb/errors"

// State is a RunSession lifecycle phase.
type State int

const (
	Created State = iota
	ColumnsResolved
	ModeSelected
	Fetching
	Succeeded
	FailedRetryable
	FailedFatal
	Finalized
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case ColumnsResolved:
		return "columns_resolved"
	case ModeSelected:
		return "mode_selected"
	case Fetching:
		return "fetching"
	case Succeeded:
		return "succeeded"
	case FailedRetryable:
		return "failed_retryable"
	case FailedFatal:
		return "failed_fatal"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is an outcome state.
func (s State) Terminal() bool {
	return s == Succeeded || s == FailedRetryable || s == FailedFatal
}

var transitions = map[State][]State{
	Created:         {ColumnsResolved, FailedFatal},
	ColumnsResolved: {ModeSelected, FailedFatal},
	ModeSelected:    {Fetching, FailedFatal},
	// Fetching re-enters itself on an outer retry.
	Fetching:        {Fetching, Succeeded, FailedRetryable, FailedFatal},
	Succeeded:       {Finalized},
	FailedRetryable: {Finalized},
	FailedFatal:     {Finalized},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return errors.AssertionFailedf("illegal session transition %s -> %s", from, to)
	}
	return nil
}
