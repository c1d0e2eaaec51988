// File: internal/history/history.go
// Description: Append-only record of completed turns. The projection applied
// before each backend call bounds what the backend sees; the stored log is
// never mutated or reordered.

package history

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// ProjectionPolicy selects the view of the stored turns the backend receives.
// Implementations must not modify the input slice or its elements.
type ProjectionPolicy func(turns []schemas.Turn) []schemas.Turn

// KeepLast returns the policy that keeps the k most recent turns in full and
// drops the rest from the projection.
func KeepLast(k int) ProjectionPolicy {
	return func(turns []schemas.Turn) []schemas.Turn {
		if k <= 0 || len(turns) <= k {
			return turns
		}
		return turns[len(turns)-k:]
	}
}

// Store holds one session's turn history. The control loop is the only
// writer; the mutex guards the read-only views a host may take elsewhere.
type Store struct {
	mu         sync.Mutex
	turns      []schemas.Turn
	policy     ProjectionPolicy
	transcript schemas.TranscriptWriter
	logger     *zap.Logger
}

// New creates the store. transcript may be nil when no persisted log is
// configured.
func New(policy ProjectionPolicy, transcript schemas.TranscriptWriter, logger *zap.Logger) *Store {
	if policy == nil {
		policy = KeepLast(0)
	}
	return &Store{
		policy:     policy,
		transcript: transcript,
		logger:     logger.Named("history"),
	}
}

// Append adds a completed turn. It enforces the ordering invariants: ordinals
// are gapless from 1, and every requested action carries exactly one result.
func (s *Store) Append(t schemas.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if want := len(s.turns) + 1; t.Ordinal != want {
		return fmt.Errorf("turn ordinal %d breaks the sequence, expected %d", t.Ordinal, want)
	}
	if err := checkCorrelation(&t); err != nil {
		return err
	}

	s.turns = append(s.turns, t)

	if s.transcript != nil {
		if err := s.transcript.WriteTurn(&t); err != nil {
			// The transcript is an audit aid, not a loop dependency.
			s.logger.Warn("Failed to persist turn to transcript", zap.Int("ordinal", t.Ordinal), zap.Error(err))
		}
	}
	return nil
}

// checkCorrelation verifies the request/result pairing within a turn.
func checkCorrelation(t *schemas.Turn) error {
	results := make(map[string]int, len(t.Results))
	for _, r := range t.Results {
		results[r.ID]++
	}
	for _, req := range t.Reply.Actions {
		switch results[req.ID] {
		case 1:
		case 0:
			return fmt.Errorf("turn %d: action %s has no result", t.Ordinal, req.ID)
		default:
			return fmt.Errorf("turn %d: action %s has %d results", t.Ordinal, req.ID, results[req.ID])
		}
	}
	return nil
}

// Turns returns a copy of the full stored sequence.
func (s *Store) Turns() []schemas.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Project applies the truncation policy and returns the backend's view.
func (s *Store) Project() []schemas.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	projected := s.policy(s.turns)
	out := make([]schemas.Turn, len(projected))
	copy(out, projected)
	return out
}

// Len reports the number of stored turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Close flushes and releases the transcript, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcript == nil {
		return nil
	}
	err := s.transcript.Close()
	s.transcript = nil
	return err
}
