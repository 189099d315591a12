package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "openai-native", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native"},
	"tts": {"voicevox"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must not be negative", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must not be negative", cfg.Audio.PlaybackRate))
	}

	validateProviderName("vad", cfg.VAD.Name)
	validateProviderName("stt", cfg.STT.Name)
	validateProviderName("llm", cfg.LLM.Name)
	validateProviderName("tts", cfg.TTS.Name)

	if cfg.VAD.SpeechThreshold != 0 || cfg.VAD.SilenceThreshold != 0 {
		if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
			errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
		}
		if cfg.VAD.SilenceThreshold < 0 || cfg.VAD.SilenceThreshold > 1 {
			errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f is out of range [0, 1]", cfg.VAD.SilenceThreshold))
		}
		if cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
			errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f must not exceed vad.speech_threshold %.2f",
				cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
		}
	}

	if cfg.STT.Name == "" {
		errs = append(errs, errors.New("stt.name is required"))
	}
	if cfg.LLM.Name == "" {
		errs = append(errs, errors.New("llm.name is required"))
	}
	if cfg.LLM.Name != "" && cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.TTS.Name == "" {
		errs = append(errs, errors.New("tts.name is required"))
	}

	if s := cfg.TTS.Voice.SpeedScale; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("tts.voice.speed_scale %.2f is out of range [0.5, 2.0]", s))
	}
	if cfg.TTS.Voice.SpeakerID < 0 {
		errs = append(errs, fmt.Errorf("tts.voice.speaker_id %d must not be negative", cfg.TTS.Voice.SpeakerID))
	}

	if c := cfg.WakeWord.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("wake_word.min_confidence %.2f is out of range [0, 1]", c))
	}
	if cfg.WakeWord.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("wake_word.cooldown %v must not be negative", cfg.WakeWord.Cooldown))
	}
	if cfg.WakeWord.Phrase == "" && len(cfg.WakeWord.Variants) > 0 {
		slog.Warn("wake_word.variants set without wake_word.phrase; gating is disabled")
	}

	if cfg.Face.Mode != "" && !cfg.Face.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("face.mode %q is invalid; valid values: none, http, ws", cfg.Face.Mode))
	}
	if cfg.Face.Mode == FaceHTTP && cfg.Face.BaseURL == "" {
		errs = append(errs, errors.New("face.base_url is required when face.mode is http"))
	}

	for _, d := range []struct {
		name string
		val  int64
	}{
		{"pipeline.hangover", int64(cfg.Pipeline.Hangover)},
		{"pipeline.max_utterance", int64(cfg.Pipeline.MaxUtterance)},
		{"pipeline.recognition_timeout", int64(cfg.Pipeline.RecognitionTimeout)},
		{"pipeline.comfort_buffer", int64(cfg.Pipeline.ComfortBuffer)},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if cfg.Pipeline.ChunkRunes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_runes %d must not be negative", cfg.Pipeline.ChunkRunes))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; conversation turns are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
