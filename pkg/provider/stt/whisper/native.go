// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/hibiki-voice/hibiki/pkg/audio"
	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Recognizer.
var _ stt.Recognizer = (*NativeProvider)(nil)

// NativeProvider implements stt.Recognizer using the whisper.cpp Go bindings
// (CGO). The model is loaded once at startup and shared across all
// inferences; each Recognize call gets its own whisper context, so calls can
// run concurrently.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	mu sync.Mutex // serializes Close against in-flight inference
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription (e.g., "en",
// "de", "ja"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		err := p.model.Close()
		p.model = nil
		return err
	}
	return nil
}

// Recognize converts the utterance PCM to float32 mono, runs whisper.cpp
// inference in a fresh context, and returns the concatenated segment text.
// The overall confidence is the mean token probability across all segments.
func (p *NativeProvider) Recognize(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(req.PCM) == 0 {
		return stt.Transcript{}, nil
	}

	pcm := req.PCM
	if req.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	samples := audio.PCM16ToFloat32(pcm)

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts     []string
		probSum   float64
		probCount int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			probCount++
		}
	}

	t := stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: lang,
	}
	if probCount > 0 {
		t.Confidence = probSum / float64(probCount)
	}
	return t, nil
}
