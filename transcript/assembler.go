package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bazelment/prettycode/logging"
	"github.com/bazelment/prettycode/protocol"
)

const noOpenTurn = -1

// Assembler owns the transcript and folds classified events into it.
//
// At most one assistant turn is open at a time. SessionInit opens one,
// fragments and tool results accumulate into it, and TurnComplete seals it.
// Write methods are expected to be called from a single goroutine; the read
// API is safe for concurrent use.
type Assembler struct {
	logger    *slog.Logger
	now       func() time.Time
	turns     []Turn
	observers []Observer
	open      int
	mu        sync.RWMutex
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger used for dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = logging.OrNop(l) }
}

// WithClock overrides time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler creates an empty transcript.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		logger: logging.Nop(),
		now:    time.Now,
		open:   noOpenTurn,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "transcript")
	return a
}

// --- Write API ---------------------------------------------------------------

// Apply folds one classified event into the transcript and reports whether
// the transcript changed. Nil events are ignored.
func (a *Assembler) Apply(ev protocol.Event) bool {
	if ev == nil {
		return false
	}

	a.mu.Lock()
	var change Change
	switch e := ev.(type) {
	case protocol.SessionInit:
		if a.open != noOpenTurn {
			a.logger.Debug("ignoring session init while a turn is open", "open", a.open)
			break
		}
		a.turns = append(a.turns, Turn{
			Role:      RoleAssistant,
			Timestamp: a.now(),
			State:     StateEmpty,
		})
		a.open = len(a.turns) - 1
		change = TurnAppended{Index: a.open}

	case protocol.AssistantFragment:
		if a.open == noOpenTurn {
			a.logger.Debug("dropping fragment without open turn")
			break
		}
		if e.Skipped > 0 {
			a.logger.Debug("skipped malformed content items", "index", a.open, "count", e.Skipped)
		}
		t := &a.turns[a.open]
		t.Events = append(t.Events, e)
		t.State = StateAccumulating
		t.Content = protocol.ExtractText(t.Events)
		change = TurnUpdated{Index: a.open}

	case protocol.ToolResult:
		if a.open == noOpenTurn {
			a.logger.Debug("dropping tool result without open turn")
			break
		}
		t := &a.turns[a.open]
		t.Events = append(t.Events, e)
		change = TurnUpdated{Index: a.open}

	case protocol.TurnComplete:
		if a.open == noOpenTurn {
			break
		}
		a.turns[a.open].State = StateSealed
		change = TurnSealed{Index: a.open}
		a.open = noOpenTurn

	case protocol.StreamError:
		// The open turn keeps its content but is closed: the error is now the
		// last record and a later SessionInit opens a fresh turn.
		if a.open != noOpenTurn {
			a.logger.Debug("closing open turn on stream error", "index", a.open)
			a.open = noOpenTurn
		}
		a.turns = append(a.turns, Turn{
			Role:      RoleAssistant,
			Content:   FormatError(e.Message),
			Events:    []protocol.Event{e},
			Timestamp: a.now(),
			State:     StateSealed,
		})
		change = TurnAppended{Index: len(a.turns) - 1}

	case protocol.Stopped:
		// Acknowledgment only; the backend follows up with a result or error.
	}
	a.mu.Unlock()

	if change == nil {
		return false
	}
	a.notify(change)
	return true
}

// AppendUser appends a sealed user turn and returns its index. Any open
// assistant turn is abandoned: it stays unsealed but receives no further
// events.
func (a *Assembler) AppendUser(text string) int {
	a.mu.Lock()
	a.open = noOpenTurn
	a.turns = append(a.turns, Turn{
		Role:      RoleUser,
		Content:   text,
		Timestamp: a.now(),
		State:     StateSealed,
	})
	idx := len(a.turns) - 1
	a.mu.Unlock()

	a.notify(TurnAppended{Index: idx})
	return idx
}

// AppendNotice appends a sealed, local-only assistant turn.
func (a *Assembler) AppendNotice(text string) int {
	a.mu.Lock()
	a.turns = append(a.turns, Turn{
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: a.now(),
		State:     StateSealed,
	})
	idx := len(a.turns) - 1
	a.mu.Unlock()

	a.notify(TurnAppended{Index: idx})
	return idx
}

// Abandon clears the open pointer without sealing the open turn. The next
// SessionInit opens a fresh turn.
func (a *Assembler) Abandon() {
	a.mu.Lock()
	if a.open != noOpenTurn {
		a.logger.Debug("abandoning open turn", "index", a.open)
	}
	a.open = noOpenTurn
	a.mu.Unlock()
}

// Truncate keeps the first n turns. It reports false when n is out of range.
func (a *Assembler) Truncate(n int) bool {
	a.mu.Lock()
	if n < 0 || n > len(a.turns) {
		a.mu.Unlock()
		return false
	}
	a.truncateLocked(n)
	a.mu.Unlock()

	a.notify(Truncated{Len: n})
	return true
}

// TruncateBeforeLastAssistant drops the last assistant turn and everything
// after it. With no assistant turn the transcript is left unchanged. It
// returns the resulting length.
func (a *Assembler) TruncateBeforeLastAssistant() int {
	a.mu.Lock()
	idx := LastIndexOf(a.turns, RoleAssistant)
	if idx < 0 {
		n := len(a.turns)
		a.mu.Unlock()
		return n
	}
	a.truncateLocked(idx)
	a.mu.Unlock()

	a.notify(Truncated{Len: idx})
	return idx
}

// EditAt truncates the transcript to end at index and replaces that turn's
// content and timestamp. The role is kept. Out-of-range indexes are rejected.
func (a *Assembler) EditAt(index int, content string) bool {
	a.mu.Lock()
	if index < 0 || index >= len(a.turns) {
		a.mu.Unlock()
		return false
	}
	a.truncateLocked(index + 1)
	a.open = noOpenTurn
	t := &a.turns[index]
	t.Content = content
	t.Timestamp = a.now()
	a.mu.Unlock()

	a.notify(Truncated{Len: index + 1})
	a.notify(TurnEdited{Index: index})
	return true
}

// Replace swaps in a new transcript, for example one loaded from storage.
// No turn is open afterwards.
func (a *Assembler) Replace(turns []Turn) {
	cp := make([]Turn, len(turns))
	for i, t := range turns {
		cp[i] = t.clone()
	}

	a.mu.Lock()
	a.turns = cp
	a.open = noOpenTurn
	a.mu.Unlock()

	a.notify(Replaced{Len: len(cp)})
}

// Clear empties the transcript.
func (a *Assembler) Clear() {
	a.Replace(nil)
}

func (a *Assembler) truncateLocked(n int) {
	if a.open >= n {
		a.open = noOpenTurn
	}
	clear(a.turns[n:])
	a.turns = a.turns[:n]
}

// --- Read API ----------------------------------------------------------------

// Snapshot returns a deep copy of the transcript.
func (a *Assembler) Snapshot() []Turn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Turn, len(a.turns))
	for i, t := range a.turns {
		out[i] = t.clone()
	}
	return out
}

// Len returns the number of turns.
func (a *Assembler) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.turns)
}

// Turn returns a copy of the turn at index.
func (a *Assembler) Turn(index int) (Turn, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if index < 0 || index >= len(a.turns) {
		return Turn{}, false
	}
	return a.turns[index].clone(), true
}

// Open returns the index of the open turn, if any.
func (a *Assembler) Open() (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.open, a.open != noOpenTurn
}

// --- Observer management -----------------------------------------------------

// AddObserver registers an observer notified after every mutation.
func (a *Assembler) AddObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// notify is called without the lock held. Observers run synchronously.
func (a *Assembler) notify(c Change) {
	a.mu.RLock()
	obs := a.observers
	a.mu.RUnlock()
	for _, o := range obs {
		o.OnTranscriptChange(c)
	}
}
