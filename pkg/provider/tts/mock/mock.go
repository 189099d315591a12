// Package mock provides test doubles for the tts package interfaces.
//
// Use Synthesizer to script synthesis results and inspect the text chunks
// that were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesizer.Synthesize.
type SynthesizeCall struct {
	// Text is the chunk passed to Synthesize.
	Text string

	// Voice is the profile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Synthesizer is a mock implementation of tts.Synthesizer. By default each
// call fabricates PCM whose duration is proportional to the text length
// (BytesPerRune), so playback tests get deterministic, distinguishable audio
// without scripting every response.
type Synthesizer struct {
	mu sync.Mutex

	// Results maps input text to a scripted result. Texts not present fall
	// back to fabricated audio.
	Results map[string]tts.SynthesizedAudio

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// ErrFor, when non-empty, makes Synthesize fail only for that exact text.
	ErrFor string

	// BytesPerRune sizes fabricated PCM. Defaults to 320 bytes (10 ms at
	// 16 kHz mono) per rune.
	BytesPerRune int

	// SampleRate of fabricated PCM. Defaults to 16000.
	SampleRate int

	// Delay, if non-nil, is received from before returning; this lets tests
	// simulate a slow backend. Synthesize still honors ctx cancellation.
	Delay <-chan struct{}

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the scripted or fabricated result.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.SynthesizedAudio, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	err := s.SynthesizeErr
	if err == nil && s.ErrFor != "" && s.ErrFor == text {
		err = context.DeadlineExceeded
	}
	result, scripted := s.Results[text]
	bytesPerRune := s.BytesPerRune
	if bytesPerRune == 0 {
		bytesPerRune = 320
	}
	rate := s.SampleRate
	if rate == 0 {
		rate = 16000
	}
	delay := s.Delay
	s.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return tts.SynthesizedAudio{}, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return tts.SynthesizedAudio{}, ctx.Err()
	}
	if err != nil {
		return tts.SynthesizedAudio{}, err
	}
	if scripted {
		return result, nil
	}

	runes := len([]rune(text))
	pcm := make([]byte, runes*bytesPerRune)
	out := tts.SynthesizedAudio{PCM: pcm, SampleRate: rate}
	if runes > 0 {
		out.Mouth = []tts.MouthEvent{
			{Offset: 0, Shape: tts.MouthA},
			{Offset: out.Duration(), Shape: tts.MouthClosed},
		}
	}
	return out, nil
}

// Texts returns the texts submitted so far, in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SynthesizeCalls))
	for i, c := range s.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
