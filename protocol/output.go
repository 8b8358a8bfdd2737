package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OutboundType discriminates between frames sent to the backend.
type OutboundType string

const (
	OutboundMessage OutboundType = "message"
	OutboundStop    OutboundType = "stop"
)

// OutboundFrame is what the chat core sends to the backend.
type OutboundFrame struct {
	Type    OutboundType `json:"type"`
	Content string       `json:"content,omitempty"`
}

// NewUserMessage constructs the frame that carries user text.
func NewUserMessage(text string) OutboundFrame {
	return OutboundFrame{Type: OutboundMessage, Content: text}
}

// NewStop constructs the frame that requests cancellation of the current turn.
func NewStop() OutboundFrame {
	return OutboundFrame{Type: OutboundStop}
}

// Marshal serializes the frame.
func (f OutboundFrame) Marshal() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal OutboundFrame: %w", err)
	}
	return b, nil
}

// DecodeOutbound parses a frame sent by a chat client.
func DecodeOutbound(data []byte) (OutboundFrame, error) {
	var f OutboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return OutboundFrame{}, &DecodeError{Cause: err, Message: "invalid JSON", Line: truncateForLog(string(data))}
	}
	if f.Type == "" {
		return OutboundFrame{}, &DecodeError{Message: "missing type", Line: truncateForLog(string(data))}
	}
	return f, nil
}

// CLIUserMessage is the stream-json input line the agent CLI reads on stdin.
type CLIUserMessage struct {
	Message CLIUserMessageInner `json:"message"`
	Type    string              `json:"type"`
}

// CLIUserMessageInner is the inner part of CLIUserMessage.
type CLIUserMessageInner struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewCLIUserMessage constructs a CLIUserMessage carrying plain text.
func NewCLIUserMessage(text string) CLIUserMessage {
	return CLIUserMessage{
		Type: "user",
		Message: CLIUserMessageInner{
			Role:    "user",
			Content: text,
		},
	}
}

// Marshal serializes the message to a JSON line ready to write to the CLI.
func (m CLIUserMessage) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal CLIUserMessage: %w", err)
	}
	return append(b, '\n'), nil
}

// StoppedFrame is sent by the backend after it has stopped a run.
func StoppedFrame() json.RawMessage {
	return json.RawMessage(`{"type":"stopped"}`)
}

// SystemErrorFrame builds a {type:"system", subtype:"error"} frame.
func SystemErrorFrame(message string) json.RawMessage {
	b, _ := json.Marshal(struct {
		Type    FrameType `json:"type"`
		Subtype string    `json:"subtype"`
		Content string    `json:"content"`
	}{FrameTypeSystem, SubtypeError, message})
	return b
}

// SystemRawFrame wraps a non-JSON output line from the CLI.
func SystemRawFrame(line string, cause error) json.RawMessage {
	if cause == nil {
		cause = errors.New("not a JSON object")
	}
	b, _ := json.Marshal(struct {
		Type    FrameType `json:"type"`
		Subtype string    `json:"subtype"`
		Content string    `json:"content"`
		Error   string    `json:"error"`
	}{FrameTypeSystem, SubtypeRaw, line, cause.Error()})
	return b
}
