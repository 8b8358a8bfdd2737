package render

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/prettycode/protocol"
	"github.com/bazelment/prettycode/transcript"
	"github.com/bazelment/prettycode/transport"
)

func newTestRenderer(t *testing.T, width int) *Renderer {
	t.Helper()
	r, err := New(width, "notty")
	require.NoError(t, err)
	return r
}

func fragment(t *testing.T, items string) protocol.Event {
	t.Helper()
	ev, err := protocol.ClassifyBytes([]byte(`{"type":"assistant","message":{"content":` + items + `}}`))
	require.NoError(t, err)
	require.NotNil(t, ev)
	return ev
}

func TestTurnRendersHeaderAndContent(t *testing.T) {
	r := newTestRenderer(t, 80)
	ts := time.Date(2026, 3, 1, 15, 4, 0, 0, time.UTC)

	out := r.Turn(0, transcript.Turn{Role: transcript.RoleUser, Content: "What is Go?", Timestamp: ts})
	assert.Contains(t, out, "You")
	assert.Contains(t, out, "#0 3:04PM")
	assert.Contains(t, out, "What is Go?")

	out = r.Turn(1, transcript.Turn{
		Role:      transcript.RoleAssistant,
		Content:   "Go is a language.",
		Timestamp: ts,
		State:     transcript.StateSealed,
	})
	assert.Contains(t, out, "Assistant")
	assert.Contains(t, out, "Go is a language.")
	assert.NotContains(t, out, "…")
}

func TestHeaderMarksOpenAndErrorTurns(t *testing.T) {
	r := newTestRenderer(t, 80)

	open := r.Header(2, transcript.Turn{Role: transcript.RoleAssistant, State: transcript.StateAccumulating})
	assert.Contains(t, open, "…")

	errTurn := r.Header(3, transcript.Turn{
		Role:    transcript.RoleAssistant,
		Content: transcript.FormatError("boom"),
		State:   transcript.StateSealed,
	})
	assert.Contains(t, errTurn, "Error")
	assert.NotContains(t, errTurn, "Assistant")
}

func TestToolLines(t *testing.T) {
	r := newTestRenderer(t, 30)
	turn := transcript.Turn{
		Role: transcript.RoleAssistant,
		Events: []protocol.Event{
			fragment(t, `[{"type":"text","text":"Reading"},{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"/a/very/long/path/to/some/file.go"}}]`),
			protocol.ToolResult{Payload: json.RawMessage(`{"type":"user"}`)},
			fragment(t, `[{"type":"tool_use","id":"t2","name":"Bash","input":{"command":"ls"}}]`),
		},
	}

	lines := r.ToolLines(turn)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "⚙ Read /a/very"), lines[0])
	assert.LessOrEqual(t, runewidth.StringWidth(lines[0]), 30)
	assert.Equal(t, "⚙ Bash ls", lines[1])
}

func TestToolSummary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no input", ``, "⚙ Grep"},
		{"pattern", `{"pattern":"func main"}`, "⚙ Grep func main"},
		{"whitespace collapsed", `{"command":"go   test\n./..."}`, "⚙ Grep go test ./..."},
		{"unknown keys", `{"limit":3}`, "⚙ Grep"},
		{"not an object", `[1,2]`, "⚙ Grep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu := protocol.ToolUseItem{Name: "Grep", Input: json.RawMessage(tt.input)}
			assert.Equal(t, tt.want, ToolSummary(tu))
		})
	}
}

func TestStatus(t *testing.T) {
	r := newTestRenderer(t, 80)

	assert.Contains(t, r.Status(transport.StatusConnected, false, ""), "connected")
	assert.NotContains(t, r.Status(transport.StatusConnected, false, ""), "streaming")

	s := r.Status(transport.StatusDisconnected, true, "0191e0a2-aaaa-7bbb-8ccc-123456789abc")
	assert.Contains(t, s, "disconnected")
	assert.Contains(t, s, "streaming")
	assert.Contains(t, s, "0191e0a2")
	assert.NotContains(t, s, "123456789abc")
}

func TestMarkdownSetWidth(t *testing.T) {
	md, err := NewMarkdown(40, "notty")
	require.NoError(t, err)
	require.NoError(t, md.SetWidth(40))
	require.NoError(t, md.SetWidth(100))
	assert.Equal(t, 100, md.width)

	out, err := md.Render("# Title\n\nbody text")
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "body text")
	assert.False(t, strings.HasPrefix(out, "\n"))
}
