package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/prettycode/protocol"
	"github.com/bazelment/prettycode/transcript"
	"github.com/bazelment/prettycode/transport"
)

// fakeChannel is an in-memory Channel driven by the test.
type fakeChannel struct {
	onFrame  transport.FrameHandler
	onStatus transport.StatusHandler
	sent     []protocol.OutboundFrame
	connects int
	status   transport.Status
	mu       sync.Mutex
}

func (f *fakeChannel) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	f.setStatus(transport.StatusConnected)
}

func (f *fakeChannel) Disconnect() {
	f.setStatus(transport.StatusDisconnected)
}

func (f *fakeChannel) Send(frame protocol.OutboundFrame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != transport.StatusConnected {
		return false
	}
	f.sent = append(f.sent, frame)
	return true
}

func (f *fakeChannel) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeChannel) Subscribe(h transport.FrameHandler) {
	f.mu.Lock()
	f.onFrame = h
	f.mu.Unlock()
}

func (f *fakeChannel) OnStatusChange(h transport.StatusHandler) {
	f.mu.Lock()
	f.onStatus = h
	f.mu.Unlock()
}

func (f *fakeChannel) setStatus(s transport.Status) {
	f.mu.Lock()
	f.status = s
	h := f.onStatus
	f.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (f *fakeChannel) deliver(t *testing.T, frames ...string) {
	t.Helper()
	f.mu.Lock()
	h := f.onFrame
	f.mu.Unlock()
	for _, raw := range frames {
		frame, err := protocol.DecodeFrame([]byte(raw))
		require.NoError(t, err)
		h(frame)
	}
}

func (f *fakeChannel) sentFrames() []protocol.OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.OutboundFrame(nil), f.sent...)
}

// fakeGateway records saves and serves loads from memory.
type fakeGateway struct {
	stored  map[string][]transcript.Turn
	saves   [][]transcript.Turn
	current string
	resets  int
	nextID  int
	mu      sync.Mutex
	failing bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{stored: make(map[string][]transcript.Turn)}
}

func (g *fakeGateway) Save(_ context.Context, turns []transcript.Turn) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves = append(g.saves, turns)
	if g.failing {
		return "", errors.New("disk full")
	}
	if g.current == "" {
		g.nextID++
		g.current = "conv-" + string(rune('0'+g.nextID))
	}
	g.stored[g.current] = turns
	return g.current, nil
}

func (g *fakeGateway) Load(_ context.Context, id string) ([]transcript.Turn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	turns, ok := g.stored[id]
	if !ok {
		return nil, errors.New("not found")
	}
	g.current = id
	return turns, nil
}

func (g *fakeGateway) NewConversation() {
	g.mu.Lock()
	g.current = ""
	g.resets++
	g.mu.Unlock()
}

func (g *fakeGateway) saveCalls() [][]transcript.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]transcript.Turn(nil), g.saves...)
}

// saveOnly is a Gateway without conversation management.
type saveOnly struct{ g *fakeGateway }

func (s saveOnly) Save(ctx context.Context, turns []transcript.Turn) (string, error) {
	return s.g.Save(ctx, turns)
}
