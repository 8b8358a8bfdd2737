// Package transcript folds classified backend events into an ordered list of
// conversation turns.
package transcript

import (
	"time"

	"github.com/bazelment/prettycode/protocol"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnState is the lifecycle state of a turn.
type TurnState int

const (
	// StateEmpty is an assistant turn opened by SessionInit with no content yet.
	StateEmpty TurnState = iota
	// StateAccumulating is an assistant turn that has folded at least one fragment.
	StateAccumulating
	// StateSealed turns never receive further events.
	StateSealed
)

func (s TurnState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// Turn is one record of the transcript.
type Turn struct {
	Timestamp time.Time
	Role      Role
	// Content is the displayed text. For assistant turns built from the
	// stream it is always protocol.ExtractText(Events).
	Content   string
	// Events holds the classified events folded into an assistant turn, in
	// arrival order. Tool uses and tool results live only here.
	Events    []protocol.Event
	State     TurnState
}

// Sealed reports whether the turn is sealed.
func (t Turn) Sealed() bool { return t.State == StateSealed }

func (t Turn) clone() Turn {
	if t.Events != nil {
		t.Events = append([]protocol.Event(nil), t.Events...)
	}
	return t
}

// ErrorPrefix starts the displayed content of a stream error turn.
const ErrorPrefix = "**Error:** "

// FormatError renders a stream error message as turn content.
func FormatError(msg string) string {
	return ErrorPrefix + msg
}

// LastIndexOf returns the index of the last turn with the given role, or -1.
func LastIndexOf(turns []Turn, role Role) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == role {
			return i
		}
	}
	return -1
}
