// Package app wires all hibiki subsystems into a running server.
//
// The App owns the full lifecycle: New connects the turn journal and the
// face renderer, Run serves the HTTP endpoints (websocket audio sessions,
// the avatar overlay, health probes, and /metrics), and Shutdown tears
// everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hibiki-voice/hibiki/internal/config"
	"github.com/hibiki-voice/hibiki/internal/dialogue"
	"github.com/hibiki-voice/hibiki/internal/face"
	"github.com/hibiki-voice/hibiki/internal/health"
	"github.com/hibiki-voice/hibiki/internal/observe"
	"github.com/hibiki-voice/hibiki/internal/playback"
	"github.com/hibiki-voice/hibiki/internal/store"
	"github.com/hibiki-voice/hibiki/pkg/provider/llm"
	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Recognizer
	TTS tts.Synthesizer
	VAD vad.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	journal  dialogue.Journal
	pool     *pgxpool.Pool
	mouth    playback.MouthSink
	overlay  *face.WSBroadcaster
	sessions *SessionManager
	server   *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a turn journal instead of creating one from config.
func WithJournal(j dialogue.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithMouthSink injects a mouth sink instead of creating one from config.
func WithMouthSink(m playback.MouthSink) Option {
	return func(a *App) { a.mouth = m }
}

// WithMetrics injects a metrics set instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}
	if err := a.initFace(); err != nil {
		return nil, fmt.Errorf("app: init face: %w", err)
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Journal:   a.journal,
		Mouth:     a.mouth,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})

	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.routes(),
	}

	return a, nil
}

// initJournal connects the turn journal: PostgreSQL when a DSN is configured,
// an in-process store otherwise.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.logger.Info("no postgres dsn configured, journaling turns in memory")
		a.journal = store.NewMemory()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	pg := store.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.pool = pool
	a.journal = pg
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.logger.Info("turn journal connected", "backend", "postgres")
	return nil
}

// initFace creates the mouth sink selected by the face config.
func (a *App) initFace() error {
	if a.mouth != nil {
		return nil
	}

	switch a.cfg.Face.Mode {
	case config.FaceHTTP:
		sink, err := face.NewHTTPSink(a.cfg.Face.BaseURL, face.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.mouth = sink
		a.closers = append(a.closers, sink.Close)
	case config.FaceWS:
		b := face.NewWSBroadcaster(a.logger)
		a.mouth = b
		a.overlay = b
		a.closers = append(a.closers, b.Close)
	default:
		a.mouth = face.Null{}
	}
	return nil
}

// routes builds the HTTP handler tree.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	checkers := []health.Checker{
		{Name: "providers", Check: a.checkProviders},
	}
	if a.pool != nil {
		checkers = append(checkers, health.Checker{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return a.pool.Ping(ctx) },
		})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /audio", a.sessions.HandleAudio)
	if a.overlay != nil {
		mux.Handle("GET /face", a.overlay)
	}

	return observe.Middleware(a.metrics)(mux)
}

// checkProviders verifies every pipeline stage has a provider.
func (a *App) checkProviders(context.Context) error {
	var missing []string
	if a.providers.LLM == nil {
		missing = append(missing, "llm")
	}
	if a.providers.STT == nil {
		missing = append(missing, "stt")
	}
	if a.providers.TTS == nil {
		missing = append(missing, "tts")
	}
	if a.providers.VAD == nil {
		missing = append(missing, "vad")
	}
	if len(missing) > 0 {
		return fmt.Errorf("providers not configured: %v", missing)
	}
	return nil
}

// Handler returns the root HTTP handler. Useful for serving hibiki from an
// existing server or test harness instead of Run.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Sessions returns the voice session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Run serves HTTP until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops accepting connections, ends active voice sessions, and
// closes subsystems in reverse-init order. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "active_sessions", a.sessions.Active())

		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown error", "error", err)
			shutdownErr = err
		}
		if err := a.sessions.CloseAll(ctx); err != nil {
			a.logger.Warn("session close error", "error", err)
			shutdownErr = err
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
