// Command hibiki is the main entry point for the hibiki voice assistant
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hibiki-voice/hibiki/internal/app"
	"github.com/hibiki-voice/hibiki/internal/config"
	"github.com/hibiki-voice/hibiki/internal/observe"
	"github.com/hibiki-voice/hibiki/pkg/provider/llm"
	"github.com/hibiki-voice/hibiki/pkg/provider/llm/anyllm"
	oainative "github.com/hibiki-voice/hibiki/pkg/provider/llm/openai"
	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
	"github.com/hibiki-voice/hibiki/pkg/provider/stt/whisper"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts/voicevox"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad/energy"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hibiki: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hibiki: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("hibiki starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hibiki",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// The any-llm backends share the same pattern: optional APIKey + optional
	// BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai-native bypasses any-llm and talks to the OpenAI API directly.
	reg.RegisterLLM("openai-native", func(entry config.LLMConfig) (llm.Provider, error) {
		var opts []oainative.Option
		if entry.BaseURL != "" {
			opts = append(opts, oainative.WithBaseURL(entry.BaseURL))
		}
		return oainative.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		return whisper.NewNative(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("voicevox", func(entry config.TTSConfig) (tts.Synthesizer, error) {
		voice := tts.VoiceProfile{
			SpeakerID:       entry.Voice.SpeakerID,
			SpeedScale:      entry.Voice.SpeedScale,
			PitchScale:      entry.Voice.PitchScale,
			IntonationScale: entry.Voice.IntonationScale,
		}
		return voicevox.New(entry.BaseURL, voicevox.WithDefaultVoice(voice))
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.VADConfig) (vad.Engine, error) {
		var opts []energy.Option
		if entry.ReferenceRMS > 0 {
			opts = append(opts, energy.WithReferenceRMS(entry.ReferenceRMS))
		}
		return energy.New(opts...), nil
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Name, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Name, "model", cfg.LLM.Model)

	r, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.STT.Name, err)
	}
	ps.STT = r
	slog.Info("provider created", "kind", "stt", "name", cfg.STT.Name)

	s, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Name, err)
	}
	ps.TTS = s
	slog.Info("provider created", "kind", "tts", "name", cfg.TTS.Name)

	vadCfg := cfg.VAD
	if vadCfg.Name == "" {
		vadCfg.Name = "energy"
	}
	v, err := reg.CreateVAD(vadCfg)
	if err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", vadCfg.Name, err)
	}
	ps.VAD = v
	slog.Info("provider created", "kind", "vad", "name", vadCfg.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          hibiki — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.STT.Name, cfg.STT.Model)
	printProvider("LLM", cfg.LLM.Name, cfg.LLM.Model)
	printProvider("TTS", cfg.TTS.Name, "")
	printProvider("VAD", cfg.VAD.Name, "")
	if cfg.WakeWord.Phrase != "" {
		printProvider("Wake word", cfg.WakeWord.Phrase, "")
	} else {
		printProvider("Wake word", "(always on)", "")
	}
	printProvider("Face", string(cfg.Face.Mode), "")
	if cfg.Store.PostgresDSN != "" {
		printProvider("Journal", "postgres", "")
	} else {
		printProvider("Journal", "memory", "")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
