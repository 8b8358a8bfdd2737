// Package store persists conversations as JSON files, one per conversation,
// under a single directory.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/bazelment/prettycode/logging"
	"github.com/bazelment/prettycode/transcript"
)

const (
	// DefaultMaxConversations is how many conversations are kept.
	DefaultMaxConversations = 20
	// MaxTitleWidth is the display width of generated titles, before "...".
	MaxTitleWidth = 50
	// UntitledConversation is the title of a conversation with no user turn.
	UntitledConversation = "New conversation"

	currentFile = "current"
	fileExt     = ".json"
)

var (
	// ErrNotFound is returned for unknown conversation IDs.
	ErrNotFound = errors.New("conversation not found")
	// ErrEmptyTranscript is returned when saving an empty transcript.
	ErrEmptyTranscript = errors.New("transcript is empty")
)

// Conversation is the serialized form of one conversation.
type Conversation struct {
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Messages  []transcript.Record `json:"messages"`
}

// Turns rebuilds the conversation's transcript. Stored frames that no longer
// decode are left out.
func (c *Conversation) Turns() []transcript.Turn {
	turns, _ := transcript.FromRecords(c.Messages)
	return turns
}

// Summary describes a conversation for listing.
type Summary struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
}

// Option configures a Store.
type Option func(*Store)

// WithMaxConversations overrides DefaultMaxConversations.
func WithMaxConversations(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a directory of conversation files plus a pointer to the current
// conversation. It is safe for concurrent use.
type Store struct {
	now     func() time.Time
	logger  *slog.Logger
	dir     string
	current string
	max     int
	mu      sync.Mutex
}

// DefaultDir returns ~/.prettycode/conversations.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".prettycode", "conversations"), nil
}

// NewStore opens the store at dir, creating it if needed. If dir is empty,
// DefaultDir is used.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		max:    DefaultMaxConversations,
		now:    time.Now,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	if data, err := os.ReadFile(filepath.Join(dir, currentFile)); err == nil {
		id := strings.TrimSpace(string(data))
		if validID(id) {
			if _, err := os.Stat(s.path(id)); err == nil {
				s.current = id
			}
		}
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// CurrentID returns the conversation the next Save writes to, or "" when the
// next Save starts a new one.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Save writes turns to the current conversation, creating one if there is
// none, and returns its ID. The title is regenerated from the first user
// turn. Creating a conversation beyond the limit removes the oldest.
func (s *Store) Save(ctx context.Context, turns []transcript.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(turns) == 0 {
		return "", ErrEmptyTranscript
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := &Conversation{
		ID:        s.current,
		CreatedAt: now,
	}
	if conv.ID != "" {
		if existing, err := s.read(conv.ID); err == nil {
			conv.CreatedAt = existing.CreatedAt
		}
	} else {
		conv.ID = uuid.Must(uuid.NewV7()).String()
	}
	conv.UpdatedAt = now
	conv.Title = GenerateTitle(turns)
	conv.Messages = transcript.ToRecords(turns)

	if err := s.write(conv); err != nil {
		return "", err
	}
	if conv.ID != s.current {
		if err := s.setCurrent(conv.ID); err != nil {
			return "", err
		}
		if err := s.prune(); err != nil {
			return "", err
		}
	}
	return conv.ID, nil
}

// Load returns the turns of conversation id and makes it current.
func (s *Store) Load(ctx context.Context, id string) ([]transcript.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := s.setCurrent(id); err != nil {
		return nil, err
	}
	turns, dropped := transcript.FromRecords(conv.Messages)
	if dropped > 0 {
		s.logger.Warn("dropped undecodable stored frames", "id", id, "count", dropped)
	}
	return turns, nil
}

// Get returns conversation id without changing the current conversation.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// NewConversation clears the current conversation; the next Save creates a
// new one.
func (s *Store) NewConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.setCurrent("")
}

// Delete removes conversation id. Deleting the current conversation clears
// the current pointer.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validID(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if s.current == id {
		return s.setCurrent("")
	}
	return nil
}

// Rename sets the title of conversation id. A later Save regenerates it.
func (s *Store) Rename(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.read(id)
	if err != nil {
		return err
	}
	conv.Title = title
	return s.write(conv)
}

// List returns all conversations, newest first. Unreadable files are skipped.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *Store) list() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	summaries := []Summary{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		conv, err := s.read(strings.TrimSuffix(entry.Name(), fileExt))
		if err != nil {
			continue
		}
		summaries = append(summaries, Summary{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
			Messages:  len(conv.Messages),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID > summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// prune removes the oldest conversations beyond the limit.
func (s *Store) prune() error {
	summaries, err := s.list()
	if err != nil {
		return err
	}
	for _, sum := range summaries[min(len(summaries), s.max):] {
		if err := os.Remove(s.path(sum.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune conversation: %w", err)
		}
		if sum.ID == s.current {
			_ = s.setCurrent("")
		}
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func (s *Store) read(id string) (*Conversation, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	return &conv, nil
}

func (s *Store) write(conv *Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return writeAtomic(s.path(conv.ID), data)
}

func (s *Store) setCurrent(id string) error {
	s.current = id
	path := filepath.Join(s.dir, currentFile)
	if id == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear current conversation: %w", err)
		}
		return nil
	}
	return writeAtomic(path, []byte(id+"\n"))
}

// writeAtomic writes using temp file + rename.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// GenerateTitle returns the first user turn's content, whitespace-collapsed
// and cut to MaxTitleWidth display columns with "..." appended when cut.
func GenerateTitle(turns []transcript.Turn) string {
	idx := -1
	for i, t := range turns {
		if t.Role == transcript.RoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		return UntitledConversation
	}

	text := strings.Join(strings.Fields(turns[idx].Content), " ")
	if runewidth.StringWidth(text) <= MaxTitleWidth {
		return text
	}
	return runewidth.Truncate(text, MaxTitleWidth, "") + "..."
}
