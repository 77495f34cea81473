package types

import "fmt"

// TurnState tracks one agent's progress through a turn. A turn is
// ephemeral: it is never persisted, only observed by the UI.
type TurnState int

const (
	// TurnScheduled - agent selected, pipeline not started.
	TurnScheduled TurnState = iota
	// TurnStreaming - tokens arriving from the transport.
	TurnStreaming
	// TurnValidating - stream complete, identity prefix being checked.
	TurnValidating
	// TurnRetrying - first validation failed, corrective attempt underway.
	TurnRetrying
	// TurnCommitted - assistant message committed.
	TurnCommitted
	// TurnFailed - transport error or second validation failure.
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnScheduled:
		return "scheduled"
	case TurnStreaming:
		return "streaming"
	case TurnValidating:
		return "validating"
	case TurnRetrying:
		return "retrying"
	case TurnCommitted:
		return "committed"
	case TurnFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state is an end state.
func (s TurnState) Terminal() bool {
	return s == TurnCommitted || s == TurnFailed
}
