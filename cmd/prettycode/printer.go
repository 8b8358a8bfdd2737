package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/bazelment/prettycode/render"
	"github.com/bazelment/prettycode/store"
	"github.com/bazelment/prettycode/transcript"
	"github.com/bazelment/prettycode/transport"
)

// printer writes the transcript to a line-oriented terminal. Turns are
// printed once complete; when an earlier turn changes, output rewinds to it.
type printer struct {
	out     io.Writer
	r       *render.Renderer
	printed []transcript.Turn
	status  transport.Status
	mu      sync.Mutex
	started bool
}

func newPrinter(out io.Writer, r *render.Renderer) *printer {
	return &printer{out: out, r: r}
}

// update prints whatever changed since the last call.
func (p *printer) update(turns []transcript.Turn, streaming bool, status transport.Status, conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || status != p.status {
		fmt.Fprintln(p.out, p.r.Status(status, streaming, conversationID))
		p.status = status
		p.started = true
	}

	d := 0
	for d < len(p.printed) && d < len(turns) && sameTurn(p.printed[d], turns[d]) {
		d++
	}
	if d < len(p.printed) {
		switch {
		case len(turns) == 0:
			fmt.Fprintln(p.out, "── transcript cleared ──")
		case d == 0:
			fmt.Fprintln(p.out, "── transcript replaced ──")
		default:
			fmt.Fprintf(p.out, "── rewound to #%d ──\n", d)
		}
		p.printed = p.printed[:d]
	}

	for i := d; i < len(turns); i++ {
		t := turns[i]
		if t.Role == transcript.RoleAssistant && !t.Sealed() && streaming {
			break
		}
		fmt.Fprint(p.out, p.r.Turn(i, t))
		p.printed = append(p.printed, t)
	}
}

// println writes command output.
func (p *printer) println(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func sameTurn(a, b transcript.Turn) bool {
	return a.Role == b.Role && a.Content == b.Content && a.Timestamp.Equal(b.Timestamp)
}

// writeSummaries lists conversations, marking current with "*".
func writeSummaries(w io.Writer, summaries []store.Summary, current string) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No saved conversations.")
		return
	}
	for _, s := range summaries {
		mark := " "
		if s.ID == current {
			mark = "*"
		}
		title := runewidth.FillRight(runewidth.Truncate(s.Title, 40, "..."), 40)
		fmt.Fprintf(w, "%s %s  %s  %3d  %s\n", mark, s.ID, title, s.Messages, s.UpdatedAt.Local().Format(time.DateTime))
	}
}
