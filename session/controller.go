// Package session implements the chat session controller: the façade that
// ties a transport channel to a transcript, exposes the user operations, and
// persists completed turns.
//
// Every mutation (user operations, inbound frames, status changes, timers)
// runs as a task on one event-loop goroutine, in arrival order. Read methods
// also go through the loop so they observe every previously delivered frame.
// Controller methods must not be called from a transcript observer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bazelment/prettycode/logging"
	"github.com/bazelment/prettycode/protocol"
	"github.com/bazelment/prettycode/transcript"
	"github.com/bazelment/prettycode/transport"
)

const (
	DefaultPersistDebounce    = time.Second
	DefaultOfflineNoticeDelay = 500 * time.Millisecond
)

// DefaultOfflineNotice is shown when a message is sent while disconnected.
const DefaultOfflineNotice = "**Not connected to backend.**\n\n" +
	"Start the backend server to connect to the agent:\n\n" +
	"```bash\nprettycode serve\n```\n\n" +
	"The client reconnects automatically once the server is up."

var (
	// ErrNoConversations is returned by LoadConversation when the gateway
	// cannot load conversations.
	ErrNoConversations = errors.New("gateway does not manage conversations")
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("session closed")
)

// Channel is the transport the controller drives. *transport.Channel
// implements it.
type Channel interface {
	Connect()
	Disconnect()
	Send(frame protocol.OutboundFrame) bool
	Status() transport.Status
	Subscribe(h transport.FrameHandler)
	OnStatusChange(h transport.StatusHandler)
}

// Gateway persists transcript snapshots. Save returns the conversation ID.
type Gateway interface {
	Save(ctx context.Context, turns []transcript.Turn) (string, error)
}

// ConversationGateway is a Gateway that can also switch conversations.
type ConversationGateway interface {
	Gateway
	Load(ctx context.Context, id string) ([]transcript.Turn, error)
	NewConversation()
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrNop(l) }
}

// WithPersistDebounce sets the delay between a completed turn and the save.
func WithPersistDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithOfflineNoticeDelay sets how long after an offline send the notice
// appears.
func WithOfflineNoticeDelay(d time.Duration) Option {
	return func(c *Controller) { c.offlineDelay = d }
}

// WithOfflineNotice replaces DefaultOfflineNotice.
func WithOfflineNotice(text string) Option {
	return func(c *Controller) { c.offlineNotice = text }
}

// WithAssembler supplies the transcript assembler, e.g. one with observers
// already registered.
func WithAssembler(a *transcript.Assembler) Option {
	return func(c *Controller) { c.asm = a }
}

// Controller is the session façade.
type Controller struct {
	channel Channel
	gateway Gateway
	asm     *transcript.Assembler
	logger  *slog.Logger
	ctx     context.Context

	loop  *taskQueue
	saver *taskQueue

	updates chan struct{}
	convID  atomic.Value // string

	offlineNotice string
	debounce      time.Duration
	offlineDelay  time.Duration

	// Owned by the loop goroutine.
	saveTimer *time.Timer
	saveGen   uint64
	streaming bool
}

// New creates a controller over channel. gateway may be nil, in which case
// nothing is persisted. Call Start to connect.
func New(channel Channel, gateway Gateway, opts ...Option) *Controller {
	c := &Controller{
		channel:       channel,
		gateway:       gateway,
		logger:        logging.Nop(),
		ctx:           context.Background(),
		loop:          newTaskQueue(),
		saver:         newTaskQueue(),
		updates:       make(chan struct{}, 1),
		offlineNotice: DefaultOfflineNotice,
		debounce:      DefaultPersistDebounce,
		offlineDelay:  DefaultOfflineNoticeDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.asm == nil {
		c.asm = transcript.NewAssembler(transcript.WithLogger(c.logger))
	}
	c.logger = c.logger.With("component", "session")
	c.convID.Store("")

	go c.loop.run()
	go c.saver.run()

	channel.Subscribe(func(f protocol.Frame) {
		c.loop.post(func() { c.handleFrame(f) })
	})
	channel.OnStatusChange(func(s transport.Status) {
		c.loop.post(func() { c.handleStatus(s) })
	})
	return c
}

// Start connects the channel.
func (c *Controller) Start() {
	c.channel.Connect()
}

// Close disconnects, saves a pending debounced snapshot immediately, and
// waits for outstanding saves.
func (c *Controller) Close() {
	c.channel.Disconnect()
	c.loop.do(c.flushPendingSave)
	c.loop.close()
	<-c.loop.done
	c.saver.close()
	<-c.saver.done
}

// --- Operations --------------------------------------------------------------

// Send appends text as a user turn and forwards it when connected. When not
// connected a local notice follows after a short delay. Empty or
// whitespace-only text is rejected.
func (c *Controller) Send(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return c.loop.do(func() {
		c.asm.AppendUser(text)
		if !c.forward(text) {
			c.scheduleOfflineNotice()
		}
		c.changed()
	})
}

// Stop asks the backend to cancel the current turn. The transcript is not
// touched. It reports whether the request was sent.
func (c *Controller) Stop() bool {
	var sent bool
	c.loop.do(func() {
		if c.channel.Status() != transport.StatusConnected {
			return
		}
		sent = c.channel.Send(protocol.NewStop())
	})
	return sent
}

// Regenerate drops the last assistant turn and everything after it, then
// re-sends the most recent user message. It is a no-op when disconnected or
// when there is no user turn.
func (c *Controller) Regenerate() bool {
	var ok bool
	c.loop.do(func() {
		if c.channel.Status() != transport.StatusConnected {
			return
		}
		turns := c.asm.Snapshot()
		idx := transcript.LastIndexOf(turns, transcript.RoleUser)
		if idx < 0 {
			return
		}
		text := turns[idx].Content
		c.asm.TruncateBeforeLastAssistant()
		c.asm.Abandon()
		ok = c.forward(text)
		c.changed()
	})
	return ok
}

// EditAndResend truncates the transcript after the turn at index, replaces
// its content, and re-sends it when connected. It reports whether the edit
// was applied; only an out-of-range index is rejected.
func (c *Controller) EditAndResend(index int, content string) bool {
	var ok bool
	c.loop.do(func() {
		if !c.asm.EditAt(index, content) {
			return
		}
		ok = true
		c.forward(content)
		c.changed()
	})
	return ok
}

// Clear empties the transcript. The current conversation is kept.
func (c *Controller) Clear() {
	c.loop.do(func() {
		c.asm.Clear()
		c.changed()
	})
}

// NewConversation saves a non-empty transcript, clears it, and starts a new
// conversation in the gateway.
func (c *Controller) NewConversation() {
	conv, _ := c.gateway.(ConversationGateway)
	c.loop.do(func() {
		c.cancelPendingSave()
		c.queueSave(c.asm.Snapshot())
		c.saver.post(func() {
			c.convID.Store("")
			if conv != nil {
				conv.NewConversation()
			}
		})
		c.asm.Clear()
		c.streaming = false
		c.changed()
	})
}

// LoadConversation replaces the transcript with a stored conversation.
func (c *Controller) LoadConversation(id string) error {
	conv, ok := c.gateway.(ConversationGateway)
	if !ok {
		return ErrNoConversations
	}

	// Pending saves belong to the outgoing conversation and must land before
	// the gateway switches.
	c.loop.do(c.flushPendingSave)

	var (
		turns []transcript.Turn
		err   error
	)
	if !c.saver.do(func() { turns, err = conv.Load(c.ctx, id) }) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	c.convID.Store(id)
	c.loop.do(func() {
		c.asm.Replace(turns)
		c.streaming = false
		c.changed()
	})
	return nil
}

// --- Read API ----------------------------------------------------------------

// Transcript returns a snapshot of the transcript.
func (c *Controller) Transcript() []transcript.Turn {
	var turns []transcript.Turn
	if !c.loop.do(func() { turns = c.asm.Snapshot() }) {
		return c.asm.Snapshot()
	}
	return turns
}

// IsStreaming reports whether a turn is in flight: true from a forwarded
// message until the matching completion, error, or stop acknowledgment.
func (c *Controller) IsStreaming() bool {
	var v bool
	c.loop.do(func() { v = c.streaming })
	return v
}

// Status returns the channel status.
func (c *Controller) Status() transport.Status {
	return c.channel.Status()
}

// ConversationID returns the ID of the last saved or loaded conversation.
func (c *Controller) ConversationID() string {
	return c.convID.Load().(string)
}

// Updates signals after state changes. Signals coalesce; receivers should
// re-read state rather than count them.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// --- Loop internals ----------------------------------------------------------

func (c *Controller) handleFrame(f protocol.Frame) {
	ev := protocol.Classify(f)
	if ev == nil {
		c.logger.Debug("ignoring frame", "type", f.Type, "subtype", f.Subtype)
		return
	}
	c.asm.Apply(ev)

	switch ev.(type) {
	case protocol.SessionInit:
		c.streaming = true
	case protocol.TurnComplete:
		c.streaming = false
		c.armSave()
	case protocol.StreamError, protocol.Stopped:
		c.streaming = false
	}
	c.changed()
}

func (c *Controller) handleStatus(s transport.Status) {
	c.logger.Debug("status changed", "status", s)
	if s == transport.StatusDisconnected {
		// The interrupted turn stays unsealed; a SessionInit after reconnect
		// opens a new one.
		c.asm.Abandon()
		c.streaming = false
	}
	c.changed()
}

// forward sends text when connected and marks the session streaming.
func (c *Controller) forward(text string) bool {
	if c.channel.Status() != transport.StatusConnected {
		return false
	}
	if !c.channel.Send(protocol.NewUserMessage(text)) {
		return false
	}
	c.streaming = true
	return true
}

func (c *Controller) scheduleOfflineNotice() {
	time.AfterFunc(c.offlineDelay, func() {
		c.loop.post(func() {
			c.asm.AppendNotice(c.offlineNotice)
			c.changed()
		})
	})
}

// armSave (re)starts the single debounce timer.
func (c *Controller) armSave() {
	c.cancelPendingSave()
	gen := c.saveGen
	c.saveTimer = time.AfterFunc(c.debounce, func() {
		c.loop.post(func() { c.fireSave(gen) })
	})
}

func (c *Controller) fireSave(gen uint64) {
	if gen != c.saveGen {
		return
	}
	c.saveTimer = nil
	c.queueSave(c.asm.Snapshot())
}

// cancelPendingSave stops the timer and invalidates a fire already queued.
func (c *Controller) cancelPendingSave() {
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	c.saveGen++
}

func (c *Controller) flushPendingSave() {
	if c.saveTimer == nil {
		return
	}
	c.cancelPendingSave()
	c.queueSave(c.asm.Snapshot())
}

func (c *Controller) queueSave(turns []transcript.Turn) {
	if c.gateway == nil || len(turns) == 0 {
		return
	}
	c.saver.post(func() {
		id, err := c.gateway.Save(c.ctx, turns)
		if err != nil {
			c.logger.Error("failed to save conversation", "turns", len(turns), "error", err)
			return
		}
		c.convID.Store(id)
		c.logger.Debug("saved conversation", "id", id, "turns", len(turns))
		c.changed()
	})
}

func (c *Controller) changed() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
