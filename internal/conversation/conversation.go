// Package conversation keeps the session's turn history: a bounded
// ring of recent turns, outcome updates, contextual prompt synthesis
// for plain dialogue, and atomic persistence across runs.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	defaultMaxTurns  = 200
	defaultMaxTokens = 32000
)

// Strategies for history that does not fit the prompt budget.
const (
	StrategyTruncate  = "truncate"
	StrategySummarize = "summarize"
)

// Config assembles a Store.
type Config struct {
	// MaxTurns bounds the in-memory ring; the oldest turns are
	// evicted first.
	MaxTurns int

	// MaxTokens is the approximate prompt budget. Tokens are
	// estimated at four characters each.
	MaxTokens int

	// Strategy selects what happens to history over budget when
	// building prompts: StrategyTruncate drops it, StrategySummarize
	// folds it into a summary paragraph.
	Strategy string

	// Path is the history file. Empty disables persistence.
	Path string

	Logger *observability.Logger
}

// Store is the session turn history. Safe for concurrent use.
type Store struct {
	maxTurns  int
	maxTokens int
	strategy  string
	path      string
	logger    *observability.Logger

	mu    sync.RWMutex
	turns []models.ConversationTurn
	dirty bool

	now func() time.Time
}

// New builds a Store. Nothing is read from disk until Load.
func New(cfg Config) *Store {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySummarize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	return &Store{
		maxTurns:  cfg.MaxTurns,
		maxTokens: cfg.MaxTokens,
		strategy:  cfg.Strategy,
		path:      cfg.Path,
		logger:    logger,
		now:       time.Now,
	}
}

// AddTurn appends a turn, filling in a generated id, the current
// time, and a pending outcome where absent, and returns the stored
// turn. The oldest turn is evicted once the ring is full.
func (s *Store) AddTurn(turn models.ConversationTurn) models.ConversationTurn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.TS.IsZero() {
		turn.TS = s.now()
	}
	if turn.Outcome == "" {
		turn.Outcome = models.OutcomePending
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	if over := len(s.turns) - s.maxTurns; over > 0 {
		s.turns = append(s.turns[:0], s.turns[over:]...)
	}
	s.dirty = true
	return turn
}

// UpdateOutcome records how the identified turn ended.
func (s *Store) UpdateOutcome(id string, outcome models.TurnOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].ID == id {
			s.turns[i].Outcome = outcome
			s.dirty = true
			return nil
		}
	}
	return fmt.Errorf("turn %s not found", id)
}

// RecordResponse attaches the assistant's reply to the identified turn.
func (s *Store) RecordResponse(id, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].ID == id {
			s.turns[i].Response = response
			s.dirty = true
			return nil
		}
	}
	return fmt.Errorf("turn %s not found", id)
}

// Clear drops every turn. The next Persist writes the empty history.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.turns)
	s.turns = nil
	if n > 0 {
		s.dirty = true
	}
	return n
}

// Recent returns up to n of the latest turns, oldest first.
func (s *Store) Recent(n int) []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || len(s.turns) == 0 {
		return nil
	}
	if n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]models.ConversationTurn, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// Len reports how many turns the ring currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

type savedHistory struct {
	SavedAt time.Time                 `json:"saved_at"`
	Turns   []models.ConversationTurn `json:"turns"`
}

// Persist writes the history file atomically: temp file, fsync,
// rename. A clean store writes nothing; persistence disabled by an
// empty path is a no-op.
func (s *Store) Persist() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	raw, err := json.MarshalIndent(savedHistory{SavedAt: s.now(), Turns: s.turns}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	if err := writeFileAtomic(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	s.dirty = false
	s.logger.Debug(context.Background(), "conversation history saved", "path", s.path, "turns", len(s.turns))
	return nil
}

// Load replaces the ring with the persisted history. A missing file
// starts the session empty; a corrupt one is reported to the caller.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	var saved savedHistory
	if err := json.Unmarshal(raw, &saved); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = saved.Turns
	if over := len(s.turns) - s.maxTurns; over > 0 {
		s.turns = s.turns[over:]
	}
	s.dirty = false
	s.logger.Debug(context.Background(), "conversation history loaded", "path", s.path, "turns", len(s.turns))
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".history-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
