// Package session holds the per-conversation identity, epoch counter, and
// interaction state machine.
//
// The epoch is the cancellation token of the whole pipeline: every reply's
// text chunks, synthesized audio, and mouth events are tagged with the epoch
// they were produced under. A barge-in bumps the epoch, and every stage
// discards work tagged with an older value. The orchestrator is the only
// writer; all other goroutines read through the atomic accessors.
package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State enumerates the interaction states of a session.
type State int32

const (
	// StateIdle means the pipeline is waiting for the wake gate to open.
	StateIdle State = iota

	// StateListening means frames are flowing into the utterance segmenter.
	StateListening

	// StateRecognizing means a completed utterance is being transcribed.
	StateRecognizing

	// StateThinking means the dialogue manager is streaming a reply.
	StateThinking

	// StateSpeaking means synthesized audio is being played.
	StateSpeaking

	// StateInterrupted is entered on barge-in. The session stays here until
	// the interrupting utterance commits and moves to recognition.
	StateInterrupted

	// StateClosed is terminal; no further transitions are valid.
	StateClosed
)

// String returns the lowercase state name used in logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecognizing:
		return "recognizing"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// validTransitions lists the allowed state graph. Closed is reachable from
// everywhere and absorbing.
var validTransitions = map[State][]State{
	StateIdle:        {StateListening},
	StateListening:   {StateRecognizing, StateIdle},
	StateRecognizing: {StateThinking, StateListening},
	StateThinking:    {StateSpeaking, StateListening, StateInterrupted},
	StateSpeaking:    {StateListening, StateInterrupted},
	StateInterrupted: {StateRecognizing, StateListening},
	StateClosed:      nil,
}

// Session is one live conversation. Epoch and state are written only by the
// orchestrator goroutine; concurrent readers use the atomic accessors.
type Session struct {
	id        string
	startedAt time.Time

	epoch atomic.Int64
	state atomic.Int32
}

// New creates a session in StateIdle with epoch 0 and a fresh UUID.
func New() *Session {
	return &Session{
		id:        uuid.NewString(),
		startedAt: time.Now(),
	}
}

// ID returns the session's UUID string.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Epoch returns the current epoch.
func (s *Session) Epoch() int64 { return s.epoch.Load() }

// BumpEpoch advances the epoch and returns the new value. Work tagged with
// an older epoch is stale and must be discarded by every stage.
func (s *Session) BumpEpoch() int64 { return s.epoch.Add(1) }

// State returns the current interaction state.
func (s *Session) State() State { return State(s.state.Load()) }

// Transition moves the session to next, validating the edge. The zero-length
// transition (next == current) is a no-op and always allowed. Returns an
// error for edges outside the state graph; the state is left unchanged.
func (s *Session) Transition(next State) error {
	cur := s.State()
	if cur == next {
		return nil
	}
	if next == StateClosed {
		s.state.Store(int32(StateClosed))
		return nil
	}
	for _, allowed := range validTransitions[cur] {
		if allowed == next {
			s.state.Store(int32(next))
			return nil
		}
	}
	return fmt.Errorf("session: invalid transition %s -> %s", cur, next)
}

// Closed reports whether the session has reached the terminal state.
func (s *Session) Closed() bool { return s.State() == StateClosed }
