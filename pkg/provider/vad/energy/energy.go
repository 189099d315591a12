// Package energy implements a vad.Engine based on short-term RMS energy.
//
// Each frame's RMS amplitude (raw int16 scale) is smoothed over a small
// window of recent frames and mapped to a pseudo-probability against a
// reference level. Hysteresis between the speech and silence thresholds
// prevents flicker at segment edges. This detector needs no model files and
// is accurate enough for close-mic desktop use; swap in a neural engine via
// the provider registry for far-field audio.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hibiki-voice/hibiki/pkg/audio"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
)

const (
	// defaultReferenceRMS is the RMS amplitude mapped to probability 1.0.
	// An RMS of 300 (a quiet close-mic voice) then maps to 0.5, the usual
	// speech threshold.
	defaultReferenceRMS = 600

	// defaultSmoothingWindow is the number of recent frames averaged before
	// thresholding.
	defaultSmoothingWindow = 4
)

// Option configures an Engine.
type Option func(*Engine)

// WithReferenceRMS sets the RMS amplitude that maps to probability 1.0.
func WithReferenceRMS(rms float64) Option {
	return func(e *Engine) { e.referenceRMS = rms }
}

// WithSmoothingWindow sets how many recent frames are averaged.
func WithSmoothingWindow(n int) Option {
	return func(e *Engine) { e.smoothingWindow = n }
}

// Engine creates energy-gate VAD sessions.
type Engine struct {
	referenceRMS    float64
	smoothingWindow int
}

var _ vad.Engine = (*Engine)(nil)

// New creates an energy VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		referenceRMS:    defaultReferenceRMS,
		smoothingWindow: defaultSmoothingWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSession validates cfg and returns a fresh detection session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %.2f out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.2f must be in [0, %.2f]",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{
		cfg:          cfg,
		frameBytes:   cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		referenceRMS: e.referenceRMS,
		window:       make([]float64, 0, e.smoothingWindow),
		windowSize:   e.smoothingWindow,
	}, nil
}

type session struct {
	cfg          vad.Config
	frameBytes   int
	referenceRMS float64
	windowSize   int

	mu       sync.Mutex
	window   []float64
	inSpeech bool
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("energy: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	prob := audio.RMS(frame) / s.referenceRMS
	if prob > 1 {
		prob = 1
	}
	s.window = append(s.window, prob)
	if len(s.window) > s.windowSize {
		s.window = s.window[1:]
	}
	var sum float64
	for _, p := range s.window {
		sum += p
	}
	smoothed := sum / float64(len(s.window))

	ev := vad.VADEvent{Probability: smoothed}
	switch {
	case !s.inSpeech && smoothed >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		ev.Type = vad.VADSpeechStart
	case s.inSpeech && smoothed <= s.cfg.SilenceThreshold:
		s.inSpeech = false
		ev.Type = vad.VADSpeechEnd
	case s.inSpeech:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = s.window[:0]
	s.inSpeech = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
