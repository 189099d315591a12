package audio

import "time"

// AudioFrame is a fixed-duration block of PCM samples flowing through the
// pipeline. Frames are the atomic unit of audio transport: captured from the
// input device, classified by VAD, buffered into utterances, and played
// through the output device.
type AudioFrame struct {
	// Data is raw 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz (16000 for the recognition path).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo output devices.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	// The capture implementation guarantees it is monotonic.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM payload.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
