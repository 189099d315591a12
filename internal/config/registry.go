package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hibiki-voice/hibiki/pkg/provider/llm"
	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(LLMConfig) (llm.Provider, error)
	stt map[string]func(ProviderEntry) (stt.Recognizer, error)
	tts map[string]func(TTSConfig) (tts.Synthesizer, error)
	vad map[string]func(VADConfig) (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(LLMConfig) (llm.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Recognizer, error)),
		tts: make(map[string]func(TTSConfig) (tts.Synthesizer, error)),
		vad: make(map[string]func(VADConfig) (vad.Engine, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a speech recognizer factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateLLM builds the LLM provider selected by cfg.Name.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateSTT builds the recognizer selected by cfg.Name.
func (r *Registry) CreateSTT(cfg ProviderEntry) (stt.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.stt[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt %q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateTTS builds the synthesizer selected by cfg.Name.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts %q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateVAD builds the VAD engine selected by cfg.Name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad %q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
