package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown wraps glamour for terminal markdown rendering.
type Markdown struct {
	renderer *glamour.TermRenderer
	style    string
	width    int
}

// NewMarkdown creates a renderer wrapping at width. style is "dark",
// "light", "notty" or "auto"; empty means "auto".
func NewMarkdown(width int, style string) (*Markdown, error) {
	if style == "" {
		style = "auto"
	}
	r, err := newTermRenderer(width, style)
	if err != nil {
		return nil, err
	}
	return &Markdown{renderer: r, style: style, width: width}, nil
}

func newTermRenderer(width int, style string) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamourOption(style),
		glamour.WithWordWrap(width),
	)
}

// Render renders markdown text. Surrounding blank lines glamour adds are
// trimmed.
func (m *Markdown) Render(text string) (string, error) {
	out, err := m.renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.Trim(out, "\n"), nil
}

// SetWidth updates the word wrap width.
func (m *Markdown) SetWidth(width int) error {
	if width == m.width {
		return nil
	}
	r, err := newTermRenderer(width, m.style)
	if err != nil {
		return err
	}
	m.renderer = r
	m.width = width
	return nil
}

func glamourOption(style string) glamour.TermRendererOption {
	switch style {
	case "dark", "light", "notty":
		return glamour.WithStandardStyle(style)
	default:
		return glamour.WithAutoStyle()
	}
}
