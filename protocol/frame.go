// Package protocol defines the wire vocabulary spoken between the chat core
// and the agent backend: inbound frames, the classified events derived from
// them, and the outbound control frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// FrameType discriminates between inbound frame kinds.
type FrameType string

const (
	FrameTypeSystem    FrameType = "system"
	FrameTypeAssistant FrameType = "assistant"
	FrameTypeUser      FrameType = "user"
	FrameTypeResult    FrameType = "result"
	FrameTypeStopped   FrameType = "stopped"
)

// System frame subtypes.
const (
	SubtypeInit  = "init"
	SubtypeError = "error"
	SubtypeRaw   = "raw"
)

// Frame is one decoded inbound message. Only the fields the interpreter
// needs are typed; the verbatim bytes are kept in Raw.
type Frame struct {
	Message      *FrameMessage   `json:"message,omitempty"`
	Type         FrameType       `json:"type"`
	Subtype      string          `json:"subtype,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Model        string          `json:"model,omitempty"`
	CWD          string          `json:"cwd,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Raw          json.RawMessage `json:"-"`
	NumTurns     int             `json:"num_turns,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
}

// FrameMessage is the inner message of assistant and user frames.
type FrameMessage struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content"`
}

// DecodeError reports a frame that could not be decoded.
type DecodeError struct {
	Cause   error
	Message string
	Line    string
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("decode frame: %s", e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// DecodeFrame parses one inbound frame.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Frame{}, &DecodeError{Message: "empty frame"}
	}
	if data[0] != '{' {
		return Frame{}, &DecodeError{Message: "not a JSON object", Line: truncateForLog(string(data))}
	}

	var core frameCore
	if err := json.Unmarshal(data, &core); err != nil {
		return Frame{}, &DecodeError{Cause: err, Message: "invalid JSON", Line: truncateForLog(string(data))}
	}
	if core.Type == "" {
		return Frame{}, &DecodeError{Message: "missing type", Line: truncateForLog(string(data))}
	}

	// Metadata is best effort: a mistyped field is left zero and the rest
	// still decodes.
	var meta frameMeta
	_ = json.Unmarshal(data, &meta)

	return Frame{
		Message:      core.Message,
		Type:         core.Type,
		Subtype:      core.Subtype,
		SessionID:    meta.SessionID,
		Model:        meta.Model,
		CWD:          meta.CWD,
		Content:      core.Content,
		Result:       core.Result,
		Raw:          append(json.RawMessage(nil), data...),
		NumTurns:     meta.NumTurns,
		DurationMs:   meta.DurationMs,
		TotalCostUSD: meta.TotalCostUSD,
		IsError:      meta.IsError,
	}, nil
}

// frameCore holds the fields classification depends on.
type frameCore struct {
	Message *FrameMessage   `json:"message"`
	Type    FrameType       `json:"type"`
	Subtype string          `json:"subtype"`
	Content json.RawMessage `json:"content"`
	Result  json.RawMessage `json:"result"`
}

// frameMeta holds descriptive fields.
type frameMeta struct {
	SessionID    string  `json:"session_id"`
	Model        string  `json:"model"`
	CWD          string  `json:"cwd"`
	NumTurns     int     `json:"num_turns"`
	DurationMs   int64   `json:"duration_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	IsError      bool    `json:"is_error"`
}

// rawString returns raw as a Go string when it is a JSON string, and the
// compact JSON text otherwise.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// truncateForLog truncates long strings for log messages without splitting
// a UTF-8 sequence.
func truncateForLog(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
