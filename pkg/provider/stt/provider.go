// Package stt defines the Recognizer interface for Speech-to-Text backends.
//
// A recognizer wraps a transcription engine (a whisper.cpp server, the native
// CGO bindings, or a cloud API) behind a single batch call: the utterance
// segmenter delivers one complete speech segment, the recognizer returns one
// transcript. Segmentation is owned by the pipeline, not the backend, so
// recognizers stay stateless and trivially swappable.
//
// Implementations must be safe for concurrent use: the pipeline may overlap a
// recognition call with the start of the next utterance.
package stt

import "context"

// Request carries one complete utterance to a recognizer.
type Request struct {
	// PCM is raw 16-bit little-endian audio of the whole utterance.
	PCM []byte

	// SampleRate is the audio sample rate in Hz. 16000 is the rate expected
	// by whisper-family models.
	SampleRate int

	// Channels is the channel count. 1 = mono (required by most engines);
	// implementations may downmix stereo internally.
	Channels int

	// Language is the language code for recognition (e.g., "en", "ja").
	// Empty lets the engine auto-detect, if supported.
	Language string
}

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Recognize transcribes one complete utterance. It blocks until the
	// engine produces a result or ctx is cancelled. An utterance that
	// contains no recognizable speech yields a Transcript with empty Text
	// and a nil error.
	Recognize(ctx context.Context, req Request) (Transcript, error)
}
