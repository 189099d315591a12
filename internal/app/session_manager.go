package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/hibiki-voice/hibiki/internal/config"
	"github.com/hibiki-voice/hibiki/internal/dialogue"
	"github.com/hibiki-voice/hibiki/internal/observe"
	"github.com/hibiki-voice/hibiki/internal/pipeline"
	"github.com/hibiki-voice/hibiki/internal/playback"
	"github.com/hibiki-voice/hibiki/internal/segmenter"
	"github.com/hibiki-voice/hibiki/internal/session"
	"github.com/hibiki-voice/hibiki/internal/wakeword"
	"github.com/hibiki-voice/hibiki/pkg/audio/wsaudio"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
)

// SessionManager runs one voice pipeline per websocket audio connection.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg       *config.Config
	providers *Providers
	journal   dialogue.Journal
	mouth     playback.MouthSink
	metrics   *observe.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	closed  bool
	running sync.WaitGroup
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Journal   dialogue.Journal
	Mouth     playback.MouthSink
	Metrics   *observe.Metrics
	Logger    *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		cfg:       cfg.Config,
		providers: cfg.Providers,
		journal:   cfg.Journal,
		mouth:     cfg.Mouth,
		metrics:   cfg.Metrics,
		logger:    logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// HandleAudio upgrades the request to a websocket audio stream and runs a
// full voice session over it. The handler blocks until the client
// disconnects or the manager shuts down.
func (sm *SessionManager) HandleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		sm.logger.Warn("audio accept failed", "error", err)
		return
	}

	orch, _, err := sm.buildPipeline(conn)
	if err != nil {
		sm.logger.Error("pipeline setup failed", "error", err)
		conn.Close(websocket.StatusInternalError, "pipeline setup failed")
		return
	}
	sessionID := orch.Session().ID()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if !sm.register(sessionID, cancel) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer sm.unregister(sessionID)

	// Surface stage errors while the session runs. The channel never
	// closes; the drain exits with the session context.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-orch.Errors():
				sm.logger.Warn("pipeline error", "session_id", sessionID, "error", err)
			}
		}
	}()

	sm.logger.Info("voice session connected", "session_id", sessionID, "remote", r.RemoteAddr)
	if err := orch.Run(ctx); err != nil {
		sm.logger.Info("voice session ended", "session_id", sessionID, "error", err)
	} else {
		sm.logger.Info("voice session ended", "session_id", sessionID)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// buildPipeline assembles the per-connection orchestrator: a websocket audio
// platform, a fresh dialogue history, and an optional wake gate. The session
// is created here so the dialogue manager journals turns under the same ID
// the orchestrator reports.
func (sm *SessionManager) buildPipeline(conn *websocket.Conn) (*pipeline.Orchestrator, *dialogue.Manager, error) {
	platform := wsaudio.New(conn,
		wsaudio.WithCaptureRate(sm.cfg.Audio.CaptureRate),
		wsaudio.WithPlaybackRate(sm.cfg.Audio.PlaybackRate),
	)
	sess := session.New()

	dlg, err := dialogue.NewManager(dialogue.Config{
		Provider:     sm.providers.LLM,
		Journal:      sm.journal,
		SessionID:    sess.ID(),
		SystemPrompt: sm.cfg.LLM.SystemPrompt,
		Temperature:  sm.cfg.LLM.Temperature,
		MaxTokens:    sm.cfg.LLM.MaxTokens,
		Logger:       sm.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dialogue manager: %w", err)
	}

	var gate *wakeword.Gate
	if sm.cfg.WakeWord.Phrase != "" {
		gate = wakeword.New(wakeword.Config{
			Phrase:              sm.cfg.WakeWord.Phrase,
			Variants:            sm.cfg.WakeWord.Variants,
			ConfidenceThreshold: sm.cfg.WakeWord.MinConfidence,
			Cooldown:            sm.cfg.WakeWord.Cooldown,
		})
	}

	orch, err := pipeline.New(pipeline.Config{
		Platform:    platform,
		VAD:         sm.providers.VAD,
		Recognizer:  sm.providers.STT,
		Dialogue:    dlg,
		Synthesizer: sm.providers.TTS,
		VADSession: vad.Config{
			SampleRate:       sm.cfg.Audio.CaptureRate,
			SpeechThreshold:  sm.cfg.VAD.SpeechThreshold,
			SilenceThreshold: sm.cfg.VAD.SilenceThreshold,
		},
		Voice: tts.VoiceProfile{
			SpeakerID:       sm.cfg.TTS.Voice.SpeakerID,
			SpeedScale:      sm.cfg.TTS.Voice.SpeedScale,
			PitchScale:      sm.cfg.TTS.Voice.PitchScale,
			IntonationScale: sm.cfg.TTS.Voice.IntonationScale,
		},
		Mouth:   sm.mouth,
		Wake:    gate,
		Session: sess,
		Metrics: sm.metrics,
		Segmenter: segmenter.Config{
			Hangover:     sm.cfg.Pipeline.Hangover,
			MaxUtterance: sm.cfg.Pipeline.MaxUtterance,
		},
		ChunkRunes:         sm.cfg.Pipeline.ChunkRunes,
		RecognitionTimeout: sm.cfg.Pipeline.RecognitionTimeout,
		ComfortBuffer:      sm.cfg.Pipeline.ComfortBuffer,
		Language:           sm.cfg.STT.Language,
		Logger:             sm.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return orch, dlg, nil
}

// register adds a running session. Returns false when the manager is
// already shutting down.
func (sm *SessionManager) register(id string, cancel context.CancelFunc) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return false
	}
	sm.active[id] = cancel
	sm.running.Add(1)
	return true
}

func (sm *SessionManager) unregister(id string) {
	sm.mu.Lock()
	delete(sm.active, id)
	sm.mu.Unlock()
	sm.running.Done()
}

// Active returns the number of running voice sessions.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}

// CloseAll cancels every running session and waits for them to finish,
// bounded by ctx. New sessions are rejected from this point on.
func (sm *SessionManager) CloseAll(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	for _, cancel := range sm.active {
		cancel()
	}
	sm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		sm.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: sessions still draining: %w", ctx.Err())
	}
}
