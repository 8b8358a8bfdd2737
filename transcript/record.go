package transcript

import (
	"encoding/json"
	"time"

	"github.com/bazelment/prettycode/protocol"
)

// Record is the persisted form of a Turn. Events are stored as the raw
// frames they were classified from.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Frames    []json.RawMessage `json:"events,omitempty"`
}

// ToRecords converts turns to their persisted form.
func ToRecords(turns []Turn) []Record {
	records := make([]Record, 0, len(turns))
	for _, t := range turns {
		r := Record{
			Role:      t.Role,
			Content:   t.Content,
			Timestamp: t.Timestamp,
		}
		for _, ev := range t.Events {
			if raw := ev.Frame(); len(raw) > 0 {
				r.Frames = append(r.Frames, raw)
			}
		}
		records = append(records, r)
	}
	return records
}

// FromRecords rebuilds sealed turns from persisted records, re-classifying
// each stored frame. Frames that no longer decode are dropped and counted.
func FromRecords(records []Record) (turns []Turn, dropped int) {
	turns = make([]Turn, 0, len(records))
	for _, r := range records {
		t := Turn{
			Role:      r.Role,
			Content:   r.Content,
			Timestamp: r.Timestamp,
			State:     StateSealed,
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = time.Now()
		}

		hasFragments := false
		for _, raw := range r.Frames {
			ev, err := protocol.ClassifyBytes(raw)
			if err != nil || ev == nil {
				dropped++
				continue
			}
			if ev.Kind() == protocol.KindAssistantFragment {
				hasFragments = true
			}
			t.Events = append(t.Events, ev)
		}
		if t.Role == RoleAssistant && hasFragments {
			t.Content = protocol.ExtractText(t.Events)
		}
		turns = append(turns, t)
	}
	return turns, dropped
}
