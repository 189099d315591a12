package store

import (
	"context"
	"sync"
	"time"

	"github.com/hibiki-voice/hibiki/internal/dialogue"
)

// Memory is an in-process journal. Turns live only as long as the process;
// it exists so the pipeline runs without a database.
type Memory struct {
	mu    sync.Mutex
	turns []dialogue.Turn
}

var _ dialogue.Journal = (*Memory)(nil)

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

// RecordTurn appends one turn.
func (s *Memory) RecordTurn(_ context.Context, turn dialogue.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

// RecentTurns returns up to limit turns for the session, oldest first.
func (s *Memory) RecentTurns(_ context.Context, sessionID string, limit int) ([]dialogue.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []dialogue.Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			matched = append(matched, t)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]dialogue.Turn, len(matched))
	copy(out, matched)
	return out, nil
}
