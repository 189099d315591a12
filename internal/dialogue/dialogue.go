// Package dialogue turns final transcripts into streamed reply text.
//
// The Manager owns the conversation history and the LLM provider. Each call
// to Reply opens one completion stream and re-emits the model's text as
// epoch-tagged deltas; when the stream fails before producing any text, a
// fixed fallback phrase is emitted instead so the voice never goes silent on
// a backend error. Turns are appended to a Journal for persistence.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/provider/llm"
)

const (
	// FallbackPhrase is spoken when the model produces nothing usable.
	FallbackPhrase = "Sorry, I didn't catch that. Could you say it again?"

	// defaultMaxHistory bounds the retained conversation history, in
	// messages (user and assistant counted separately).
	defaultMaxHistory = 40

	defaultSystemPrompt = "You are a friendly voice assistant. Keep replies short and conversational; they will be spoken aloud."
)

// Delta is one increment of a streamed reply.
type Delta struct {
	// Epoch tags the reply this delta belongs to.
	Epoch int64

	// Text is the incremental reply text. Empty on the terminal delta.
	Text string

	// Final marks the last delta of the reply.
	Final bool

	// Err is set on the terminal delta when generation failed. The fallback
	// phrase has already been emitted as ordinary deltas by then.
	Err error
}

// Turn is one journal entry of the conversation.
type Turn struct {
	SessionID   string
	Epoch       int64
	Role        string // "user" or "assistant"
	Text        string
	Interrupted bool
	CreatedAt   time.Time
}

// Journal persists turns. Implementations must be safe for concurrent use.
type Journal interface {
	RecordTurn(ctx context.Context, turn Turn) error
}

// Config holds Manager construction parameters.
type Config struct {
	Provider llm.Provider

	// Journal may be nil to disable persistence.
	Journal Journal

	// SessionID tags journal entries.
	SessionID string

	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// MaxHistory bounds retained messages. Zero selects the default.
	MaxHistory int

	Logger *slog.Logger
}

// Manager drives one conversation. Reply must not be called concurrently
// with itself; the orchestrator serializes turns.
type Manager struct {
	provider llm.Provider
	journal  Journal

	sessionID    string
	systemPrompt string
	temperature  float64
	maxTokens    int
	maxHistory   int
	logger       *slog.Logger

	// mu guards history. An interrupted turn finishes on its stream
	// goroutine while the next Reply may already be starting.
	mu      sync.Mutex
	history []llm.Message
}

// NewManager creates a dialogue manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("dialogue: provider must not be nil")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		provider:     cfg.Provider,
		journal:      cfg.Journal,
		sessionID:    cfg.SessionID,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		maxHistory:   cfg.MaxHistory,
		logger:       cfg.Logger,
	}, nil
}

// Reply streams the model's response to userText as deltas tagged with
// epoch. The returned channel is closed after the terminal delta. The user
// turn and the (possibly partial) assistant turn are appended to history and
// journaled; cancellation of ctx marks the assistant turn interrupted.
func (m *Manager) Reply(ctx context.Context, epoch int64, userText string) <-chan Delta {
	out := make(chan Delta, 16)

	m.mu.Lock()
	m.history = append(m.history, llm.Message{Role: "user", Content: userText})
	m.trimHistory()
	messages := append([]llm.Message(nil), m.history...)
	m.mu.Unlock()
	m.record(ctx, Turn{
		SessionID: m.sessionID,
		Epoch:     epoch,
		Role:      "user",
		Text:      userText,
		CreatedAt: time.Now(),
	})

	req := llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: m.systemPrompt,
		Temperature:  m.temperature,
		MaxTokens:    m.maxTokens,
	}

	chunks, err := m.provider.StreamCompletion(ctx, req)
	if err != nil {
		go func() {
			defer close(out)
			m.logger.Error("completion stream failed to start", "error", err)
			m.emitFallback(ctx, out, epoch, fmt.Errorf("dialogue: start stream: %w", err))
		}()
		return out
	}

	go func() {
		defer close(out)

		var (
			reply     strings.Builder
			streamErr error
		)
		for chunk := range chunks {
			if chunk.FinishReason == "error" {
				streamErr = fmt.Errorf("dialogue: generation: %s", chunk.Text)
				break
			}
			if chunk.Text == "" {
				continue
			}
			reply.WriteString(chunk.Text)
			select {
			case out <- Delta{Epoch: epoch, Text: chunk.Text}:
			case <-ctx.Done():
				m.finishTurn(epoch, reply.String(), true)
				return
			}
		}

		if streamErr != nil && reply.Len() == 0 {
			m.logger.Error("generation failed, speaking fallback", "error", streamErr)
			m.emitFallback(ctx, out, epoch, streamErr)
			return
		}

		interrupted := ctx.Err() != nil
		m.finishTurn(epoch, reply.String(), interrupted)
		select {
		case out <- Delta{Epoch: epoch, Final: true, Err: streamErr}:
		case <-ctx.Done():
		}
	}()

	return out
}

// emitFallback speaks the fallback phrase and terminates the stream with err
// attached. The fallback is also recorded as the assistant turn.
func (m *Manager) emitFallback(ctx context.Context, out chan<- Delta, epoch int64, err error) {
	select {
	case out <- Delta{Epoch: epoch, Text: FallbackPhrase}:
	case <-ctx.Done():
		return
	}
	m.finishTurn(epoch, FallbackPhrase, false)
	select {
	case out <- Delta{Epoch: epoch, Final: true, Err: err}:
	case <-ctx.Done():
	}
}

// finishTurn appends the assistant turn to history and the journal. Partial
// replies are kept: the user heard them, so later turns should see them too.
func (m *Manager) finishTurn(epoch int64, text string, interrupted bool) {
	if text == "" {
		return
	}
	m.mu.Lock()
	m.history = append(m.history, llm.Message{Role: "assistant", Content: text})
	m.trimHistory()
	m.mu.Unlock()
	// Journaling must outlive the turn's context: a barge-in cancels the
	// turn but the partial reply still belongs in the record.
	jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.record(jctx, Turn{
		SessionID:   m.sessionID,
		Epoch:       epoch,
		Role:        "assistant",
		Text:        text,
		Interrupted: interrupted,
		CreatedAt:   time.Now(),
	})
}

func (m *Manager) record(ctx context.Context, turn Turn) {
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordTurn(ctx, turn); err != nil {
		m.logger.Warn("journal write failed", "role", turn.Role, "error", err)
	}
}

// trimHistory caps history length. Must be called with mu held.
func (m *Manager) trimHistory() {
	if len(m.history) > m.maxHistory {
		m.history = append([]llm.Message(nil), m.history[len(m.history)-m.maxHistory:]...)
	}
}

// History returns a copy of the retained conversation history.
func (m *Manager) History() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Message(nil), m.history...)
}
