// Package render formats transcript turns and connection state for a
// terminal.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/bazelment/prettycode/protocol"
	"github.com/bazelment/prettycode/transcript"
	"github.com/bazelment/prettycode/transport"
)

// Styles holds the lipgloss styles used for each part of the output.
type Styles struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	Error     lipgloss.Style
	Dim       lipgloss.Style
	Tool      lipgloss.Style
	Connected lipgloss.Style
	Offline   lipgloss.Style
}

// DefaultStyles returns the standard palette.
func DefaultStyles() Styles {
	return Styles{
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Tool:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Connected: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Offline:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Renderer turns transcript turns into terminal text.
type Renderer struct {
	md     *Markdown
	styles Styles
	width  int
}

// New creates a Renderer for a terminal width columns wide.
func New(width int, markdownStyle string) (*Renderer, error) {
	if width <= 0 {
		width = 80
	}
	md, err := NewMarkdown(width, markdownStyle)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{md: md, styles: DefaultStyles(), width: width}, nil
}

// SetWidth adjusts wrapping to a new terminal width.
func (r *Renderer) SetWidth(width int) error {
	if width <= 0 {
		return nil
	}
	r.width = width
	return r.md.SetWidth(width)
}

// Header returns the label line of turn index.
func (r *Renderer) Header(index int, t transcript.Turn) string {
	var label string
	switch {
	case t.Role == transcript.RoleUser:
		label = r.styles.User.Render("You")
	case isError(t):
		label = r.styles.Error.Render("Error")
	default:
		label = r.styles.Assistant.Render("Assistant")
	}
	meta := fmt.Sprintf("#%d %s", index, t.Timestamp.Format(time.Kitchen))
	if t.Role == transcript.RoleAssistant && !t.Sealed() {
		meta += " …"
	}
	return label + " " + r.styles.Dim.Render(meta)
}

// Turn renders one turn: its header, markdown content, and one summary line
// per tool use.
func (r *Renderer) Turn(index int, t transcript.Turn) string {
	var b strings.Builder
	b.WriteString(r.Header(index, t))
	b.WriteByte('\n')

	if content := strings.TrimSpace(t.Content); content != "" {
		body, err := r.md.Render(content)
		if err != nil {
			body = content
		}
		b.WriteString(body)
		b.WriteByte('\n')
	}
	for _, line := range r.ToolLines(t) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// ToolLines returns a one-line summary of each tool use in the turn, cut to
// the terminal width.
func (r *Renderer) ToolLines(t transcript.Turn) []string {
	var lines []string
	for _, ev := range t.Events {
		frag, ok := ev.(protocol.AssistantFragment)
		if !ok {
			continue
		}
		for _, tu := range frag.ToolUses() {
			line := runewidth.Truncate(ToolSummary(tu), r.width, "…")
			lines = append(lines, r.styles.Tool.Render(line))
		}
	}
	return lines
}

// ToolSummary describes a tool use as "⚙ Name arg", where arg is the first
// string-valued input among a few well-known keys.
func ToolSummary(tu protocol.ToolUseItem) string {
	summary := "⚙ " + tu.Name
	var input map[string]any
	if len(tu.Input) == 0 || json.Unmarshal(tu.Input, &input) != nil {
		return summary
	}
	for _, key := range []string{"file_path", "path", "command", "pattern", "url", "description"} {
		if v, ok := input[key].(string); ok && v != "" {
			return summary + " " + strings.Join(strings.Fields(v), " ")
		}
	}
	return summary
}

// Status returns the status line shown above the prompt.
func (r *Renderer) Status(status transport.Status, streaming bool, conversationID string) string {
	var parts []string
	if status == transport.StatusConnected {
		parts = append(parts, r.styles.Connected.Render("● "+status.String()))
	} else {
		parts = append(parts, r.styles.Offline.Render("○ "+status.String()))
	}
	if streaming {
		parts = append(parts, "streaming")
	}
	if conversationID != "" {
		parts = append(parts, r.styles.Dim.Render(runewidth.Truncate(conversationID, 13, "…")))
	}
	return strings.Join(parts, " · ")
}

func isError(t transcript.Turn) bool {
	return t.Role == transcript.RoleAssistant && strings.HasPrefix(t.Content, transcript.ErrorPrefix)
}
