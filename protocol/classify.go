package protocol

import (
	"strings"
)

// UnknownErrorMessage is used when a system error frame carries no content.
const UnknownErrorMessage = "unknown stream error"

// Classify maps one frame to a classified event. It returns nil for shapes it
// does not recognize; callers drop those.
func Classify(f Frame) Event {
	switch f.Type {
	case FrameTypeSystem:
		switch f.Subtype {
		case SubtypeInit:
			return SessionInit{SessionID: f.SessionID, Model: f.Model, CWD: f.CWD, Raw: f.Raw}
		case SubtypeError:
			msg := rawString(f.Content)
			if msg == "" {
				msg = UnknownErrorMessage
			}
			return StreamError{Message: msg, Raw: f.Raw}
		}
		return nil

	case FrameTypeAssistant:
		if f.Message == nil {
			return nil
		}
		items, skipped, ok := ParseContent(f.Message.Content)
		if !ok {
			return nil
		}
		return AssistantFragment{Items: items, Raw: f.Raw, Skipped: skipped}

	case FrameTypeUser:
		return ToolResult{Payload: f.Raw}

	case FrameTypeResult:
		return TurnComplete{
			Subtype:      f.Subtype,
			Result:       rawString(f.Result),
			IsError:      f.IsError,
			NumTurns:     f.NumTurns,
			DurationMs:   f.DurationMs,
			TotalCostUSD: f.TotalCostUSD,
			Raw:          f.Raw,
		}

	case FrameTypeStopped:
		return Stopped{Raw: f.Raw}
	}
	return nil
}

// ClassifyBytes decodes and classifies a frame in one step. Decode failures
// are returned as errors; unrecognized shapes yield (nil, nil).
func ClassifyBytes(data []byte) (Event, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return Classify(f), nil
}

// ExtractText returns the displayed content of a turn: every text item of
// every AssistantFragment, in order. Other events and tool-use items
// contribute nothing.
func ExtractText(events []Event) string {
	var sb strings.Builder
	for _, ev := range events {
		frag, ok := ev.(AssistantFragment)
		if !ok {
			continue
		}
		for _, item := range frag.Items {
			if t, ok := item.(TextItem); ok {
				sb.WriteString(t.Text)
			}
		}
	}
	return sb.String()
}
