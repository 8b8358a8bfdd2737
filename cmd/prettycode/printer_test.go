package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/prettycode/render"
	"github.com/bazelment/prettycode/store"
	"github.com/bazelment/prettycode/transcript"
	"github.com/bazelment/prettycode/transport"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestPrinter(t *testing.T) (*printer, *bytes.Buffer) {
	t.Helper()
	r, err := render.New(80, "notty")
	require.NoError(t, err)
	var buf bytes.Buffer
	return newPrinter(&buf, r), &buf
}

func user(text string, sec int) transcript.Turn {
	return transcript.Turn{Role: transcript.RoleUser, Content: text, Timestamp: t0.Add(time.Duration(sec) * time.Second), State: transcript.StateSealed}
}

func assistant(text string, sec int, state transcript.TurnState) transcript.Turn {
	return transcript.Turn{Role: transcript.RoleAssistant, Content: text, Timestamp: t0.Add(time.Duration(sec) * time.Second), State: state}
}

func TestPrinterPrintsStatusOnChange(t *testing.T) {
	p, buf := newTestPrinter(t)

	p.update(nil, false, transport.StatusConnecting, "")
	p.update(nil, false, transport.StatusConnecting, "")
	assert.Equal(t, 1, strings.Count(buf.String(), "connecting"))

	p.update(nil, false, transport.StatusConnected, "")
	assert.Contains(t, buf.String(), "connected")
}

func TestPrinterWaitsForOpenTurn(t *testing.T) {
	p, buf := newTestPrinter(t)
	q := user("question", 0)

	p.update([]transcript.Turn{q, assistant("partial", 1, transcript.StateAccumulating)}, true, transport.StatusConnected, "")
	assert.Contains(t, buf.String(), "question")
	assert.NotContains(t, buf.String(), "partial")

	p.update([]transcript.Turn{q, assistant("partial answer", 1, transcript.StateSealed)}, false, transport.StatusConnected, "")
	assert.Contains(t, buf.String(), "partial answer")
	assert.Equal(t, 1, strings.Count(buf.String(), "question"))
	assert.Len(t, p.printed, 2)
}

func TestPrinterPrintsAbandonedTurnWhenNotStreaming(t *testing.T) {
	p, buf := newTestPrinter(t)
	turns := []transcript.Turn{user("q", 0), assistant("cut off", 1, transcript.StateAccumulating)}

	p.update(turns, false, transport.StatusDisconnected, "")
	assert.Contains(t, buf.String(), "cut off")
}

func TestPrinterRewinds(t *testing.T) {
	p, buf := newTestPrinter(t)
	q := user("q", 0)
	p.update([]transcript.Turn{q, assistant("first answer", 1, transcript.StateSealed)}, false, transport.StatusConnected, "")

	buf.Reset()
	p.update([]transcript.Turn{q}, true, transport.StatusConnected, "")
	assert.Contains(t, buf.String(), "rewound to #1")

	buf.Reset()
	p.update([]transcript.Turn{q, assistant("second answer", 2, transcript.StateSealed)}, false, transport.StatusConnected, "")
	assert.Contains(t, buf.String(), "second answer")
	assert.NotContains(t, buf.String(), "rewound")

	buf.Reset()
	p.update(nil, false, transport.StatusConnected, "")
	assert.Contains(t, buf.String(), "transcript cleared")
	assert.Empty(t, p.printed)

	p.update([]transcript.Turn{user("loaded", 5)}, false, transport.StatusConnected, "")
	buf.Reset()
	p.update([]transcript.Turn{user("other", 6)}, false, transport.StatusConnected, "")
	assert.Contains(t, buf.String(), "transcript replaced")
	assert.Contains(t, buf.String(), "other")
}

func TestWriteSummaries(t *testing.T) {
	var buf bytes.Buffer
	writeSummaries(&buf, nil, "")
	assert.Equal(t, "No saved conversations.\n", buf.String())

	buf.Reset()
	writeSummaries(&buf, []store.Summary{
		{ID: "a", Title: "First", Messages: 2, UpdatedAt: t0},
		{ID: "b", Title: strings.Repeat("long ", 20), Messages: 4, UpdatedAt: t0},
	}, "b")
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "  a  First"))
	assert.True(t, strings.HasPrefix(lines[1], "* b  long"))
	assert.Contains(t, lines[1], "...")
}
