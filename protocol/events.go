package protocol

import (
	"encoding/json"
	"strings"
)

// EventKind discriminates between classified events.
type EventKind int

const (
	// KindSessionInit fires when the backend starts a new session or turn.
	KindSessionInit EventKind = iota
	// KindAssistantFragment carries incremental assistant content.
	KindAssistantFragment
	// KindToolResult carries an opaque tool result payload.
	KindToolResult
	// KindTurnComplete marks the end of a turn.
	KindTurnComplete
	// KindStreamError carries a backend-reported error.
	KindStreamError
	// KindStopped acknowledges a stop request.
	KindStopped
)

func (k EventKind) String() string {
	switch k {
	case KindSessionInit:
		return "session_init"
	case KindAssistantFragment:
		return "assistant_fragment"
	case KindToolResult:
		return "tool_result"
	case KindTurnComplete:
		return "turn_complete"
	case KindStreamError:
		return "stream_error"
	case KindStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is a classified inbound frame. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	// Frame returns the verbatim frame the event was classified from.
	Frame() json.RawMessage
	event()
}

// SessionInit fires on {type:"system", subtype:"init"}.
type SessionInit struct {
	SessionID string
	Model     string
	CWD       string
	Raw       json.RawMessage
}

// Kind returns the event kind.
func (SessionInit) Kind() EventKind { return KindSessionInit }

// Frame returns the source frame.
func (e SessionInit) Frame() json.RawMessage { return e.Raw }
func (SessionInit) event()                   {}

// AssistantFragment carries the content items of one assistant frame in
// arrival order.
type AssistantFragment struct {
	Items []ContentItem
	Raw   json.RawMessage
	// Skipped counts malformed content items left out of Items.
	Skipped int
}

// Kind returns the event kind.
func (AssistantFragment) Kind() EventKind { return KindAssistantFragment }

// Frame returns the source frame.
func (e AssistantFragment) Frame() json.RawMessage { return e.Raw }
func (AssistantFragment) event()                   {}

// Text returns the concatenation of the fragment's text items.
func (e AssistantFragment) Text() string {
	var sb strings.Builder
	for _, item := range e.Items {
		if t, ok := item.(TextItem); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the fragment's tool-use items.
func (e AssistantFragment) ToolUses() []ToolUseItem {
	var uses []ToolUseItem
	for _, item := range e.Items {
		if t, ok := item.(ToolUseItem); ok {
			uses = append(uses, t)
		}
	}
	return uses
}

// ToolResult carries a {type:"user"} frame verbatim.
type ToolResult struct {
	Payload json.RawMessage
}

// Kind returns the event kind.
func (ToolResult) Kind() EventKind { return KindToolResult }

// Frame returns the source frame.
func (e ToolResult) Frame() json.RawMessage { return e.Payload }
func (ToolResult) event()                   {}

// TurnComplete fires on {type:"result"}. The metadata fields are optional.
type TurnComplete struct {
	Subtype      string
	Result       string
	Raw          json.RawMessage
	NumTurns     int
	DurationMs   int64
	TotalCostUSD float64
	IsError      bool
}

// Kind returns the event kind.
func (TurnComplete) Kind() EventKind { return KindTurnComplete }

// Frame returns the source frame.
func (e TurnComplete) Frame() json.RawMessage { return e.Raw }
func (TurnComplete) event()                   {}

// StreamError fires on {type:"system", subtype:"error"}.
type StreamError struct {
	Message string
	Raw     json.RawMessage
}

// Kind returns the event kind.
func (StreamError) Kind() EventKind { return KindStreamError }

// Frame returns the source frame.
func (e StreamError) Frame() json.RawMessage { return e.Raw }
func (StreamError) event()                   {}

// Stopped fires on {type:"stopped"}, the backend's answer to a stop request.
type Stopped struct {
	Raw json.RawMessage
}

// Kind returns the event kind.
func (Stopped) Kind() EventKind { return KindStopped }

// Frame returns the source frame.
func (e Stopped) Frame() json.RawMessage { return e.Raw }
func (Stopped) event()                   {}
