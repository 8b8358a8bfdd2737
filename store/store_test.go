package store

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/prettycode/protocol"
	"github.com/bazelment/prettycode/transcript"
)

// tickingClock advances one minute per call.
func tickingClock() func() time.Time {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(tickingClock())}, opts...)
	s, err := NewStore(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func turns(texts ...string) []transcript.Turn {
	var out []transcript.Turn
	for i, text := range texts {
		role := transcript.RoleUser
		if i%2 == 1 {
			role = transcript.RoleAssistant
		}
		out = append(out, transcript.Turn{
			Role:      role,
			Content:   text,
			Timestamp: time.Date(2026, 3, 1, 0, 0, i, 0, time.UTC),
			State:     transcript.StateSealed,
		})
	}
	return out
}

func TestStore_SaveCreatesThenUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, turns("hello", "hi there"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, s.CurrentID())
	assert.FileExists(t, filepath.Join(s.Dir(), id+".json"))

	again, err := s.Save(ctx, turns("hello", "hi there", "more", "sure"))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].Messages)
	assert.Equal(t, "hello", list[0].Title)
	assert.True(t, list[0].UpdatedAt.After(list[0].CreatedAt))
}

func TestStore_SaveEmptyTranscript(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestStore_SaveCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Save(ctx, turns("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_NewConversationStartsFreshID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, turns("first"))
	require.NoError(t, err)
	s.NewConversation()
	assert.Empty(t, s.CurrentID())

	second, err := s.Save(ctx, turns("second"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID, "newest first")
	assert.Equal(t, first, list[1].ID)
}

func TestStore_LoadRoundTripsEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := transcript.NewAssembler()
	a.AppendUser("run ls")
	for _, frame := range []string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"a.go"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Found a.go"}]}}`,
		`{"type":"result"}`,
	} {
		ev, err := protocol.ClassifyBytes([]byte(frame))
		require.NoError(t, err)
		a.Apply(ev)
	}

	id, err := s.Save(ctx, a.Snapshot())
	require.NoError(t, err)
	s.NewConversation()

	loaded, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, s.CurrentID())
	require.Len(t, loaded, 2)
	assert.Equal(t, "Found a.go", loaded[1].Content)
	require.Len(t, loaded[1].Events, 3)
	assert.Equal(t, protocol.KindToolResult, loaded[1].Events[1].Kind())
	assert.True(t, loaded[1].Sealed())
}

func TestStore_LoadLogsDroppedFrames(t *testing.T) {
	var buf bytes.Buffer
	s := newTestStore(t, WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	ctx := context.Background()

	id, err := s.Save(ctx, turns("q", "a"))
	require.NoError(t, err)

	conv, err := s.Get(id)
	require.NoError(t, err)
	conv.Messages[1].Frames = []json.RawMessage{json.RawMessage(`{"type":"mystery"}`)}
	require.NoError(t, s.write(conv))

	loaded, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[1].Content)
	assert.Empty(t, loaded[1].Events)
	assert.Contains(t, buf.String(), "dropped undecodable stored frames")
	assert.Contains(t, buf.String(), "count=1")
}

func TestStore_LoadUnknown(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"missing", "../escape", ""} {
		_, err := s.Load(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestStore_CurrentSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	id, err := s.Save(context.Background(), turns("persist me"))
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	assert.Equal(t, id, reopened.CurrentID())

	reopened.NewConversation()
	again, err := NewStore(dir)
	require.NoError(t, err)
	assert.Empty(t, again.CurrentID())
}

func TestStore_PrunesOldest(t *testing.T) {
	s := newTestStore(t, WithMaxConversations(3))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		s.NewConversation()
		id, err := s.Save(ctx, turns(strings.Repeat("x", i+1)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{list[0].ID, list[1].ID, list[2].ID})

	_, err = s.Get(ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateDoesNotReorderOrPrune(t *testing.T) {
	s := newTestStore(t, WithMaxConversations(2))
	ctx := context.Background()

	first, err := s.Save(ctx, turns("first"))
	require.NoError(t, err)
	s.NewConversation()
	second, err := s.Save(ctx, turns("second"))
	require.NoError(t, err)

	_, err = s.Load(ctx, first)
	require.NoError(t, err)
	_, err = s.Save(ctx, turns("first", "updated"))
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestStore_DeleteCurrent(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Save(context.Background(), turns("bye"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	assert.Empty(t, s.CurrentID())
	assert.ErrorIs(t, s.Delete(id), ErrNotFound)

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Rename(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Save(context.Background(), turns("original"))
	require.NoError(t, err)

	require.NoError(t, s.Rename(id, "Better title"))
	conv, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Better title", conv.Title)

	assert.ErrorIs(t, s.Rename("nope", "x"), ErrNotFound)
}

func TestStore_ListSkipsMalformedFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), turns("good"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0o644))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Title)
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name  string
		turns []transcript.Turn
		want  string
	}{
		{"no user turn", []transcript.Turn{{Role: transcript.RoleAssistant, Content: "hi"}}, UntitledConversation},
		{"empty", nil, UntitledConversation},
		{"short", turns("Fix the build"), "Fix the build"},
		{"whitespace collapsed", turns("Fix\n  the\tbuild"), "Fix the build"},
		{"exactly fifty", turns(strings.Repeat("a", 50)), strings.Repeat("a", 50)},
		{"long", turns(strings.Repeat("b", 60)), strings.Repeat("b", 50) + "..."},
		{"wide runes", turns(strings.Repeat("漢", 30)), strings.Repeat("漢", 25) + "..."},
		{"first user wins", []transcript.Turn{
			{Role: transcript.RoleAssistant, Content: "notice"},
			{Role: transcript.RoleUser, Content: "question"},
			{Role: transcript.RoleUser, Content: "later"},
		}, "question"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateTitle(tt.turns))
		})
	}
}
