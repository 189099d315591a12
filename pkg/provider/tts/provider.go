// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A TTS synthesizer wraps a speech synthesis service (e.g., a local VOICEVOX
// engine) and produces, for each text chunk, both the rendered PCM audio and
// a mouth-shape timeline aligned to it. The playback coordinator schedules
// the timeline against the playback clock to animate an avatar's mouth in
// sync with the speech.
//
// Implementations must be safe for concurrent use: the pipeline synthesizes
// several chunks of one reply in parallel.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders one text chunk to PCM audio with an aligned
	// mouth-shape timeline. It blocks until the audio is ready or ctx is
	// cancelled. Empty text yields empty audio and a nil error.
	//
	// voice selects the speaker and prosody; a zero-value VoiceProfile asks
	// for the backend's defaults.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (SynthesizedAudio, error)
}
