// Package audio defines the interfaces and types for audio device
// connectivity within Hibiki.
//
// The two primary abstractions are:
//
//   - [Capture]: a continuous source of fixed-size PCM frames from the
//     user's microphone (or a remote client acting as one).
//   - [Player]: an ordered PCM output sink with a queryable playback
//     position and an immediate-stop operation.
//
// Implementations are provided by transport-specific adapter packages
// (e.g., audio/wsaudio for websocket clients, audio/mock for tests). The
// interfaces are intentionally narrow so the pipeline stays decoupled from
// device details.
//
// This package lives under pkg/ because external code (third-party device
// adapters) is expected to implement [Platform].
package audio

import (
	"context"
	"time"
)

// Capture is the microphone side of an audio platform. It produces a
// continuous stream of [AudioFrame] values at the sample rate agreed with
// the platform.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Frames returns the read-only frame stream. The channel is closed when
	// the capture source ends or the platform is closed. Frames carry
	// monotonic capture timestamps.
	Frames() <-chan AudioFrame

	// Close stops capture and closes the Frames channel. Safe to call more
	// than once; subsequent calls return nil.
	Close() error
}

// Player is the speaker side of an audio platform. Buffers submitted via
// Play are queued and rendered back to back; Position exposes the playback
// clock the coordinator schedules mouth-shape events against.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play enqueues a PCM buffer (16-bit LE, the platform's output rate) for
	// gapless playback after any already queued audio. It must not block for
	// the duration of the audio itself.
	Play(pcm []byte) error

	// Position returns the total duration of audio rendered so far. It is
	// monotonic except across Stop, which freezes it at the stop point.
	Position() time.Duration

	// Stop immediately silences the output and discards all queued buffers.
	// Play may be called again afterwards.
	Stop() error

	// SampleRate returns the output sample rate in Hz.
	SampleRate() int
}

// Platform is the entry point for an audio device provider. It wraps a
// transport (websocket client, local sound device, test harness) and exposes
// the capture and playback halves the pipeline needs.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Open establishes the device session and returns its capture and
	// playback halves. ctx governs the connection attempt only; the session
	// stays alive until both halves are closed.
	Open(ctx context.Context) (Capture, Player, error)
}
