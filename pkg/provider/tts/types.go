package tts

import "time"

// MouthShape enumerates the avatar mouth positions used for lip sync. The
// set is deliberately coarse: vowel identity drives the open shapes and
// everything else maps to closed.
type MouthShape int

const (
	// MouthClosed is the rest position, used for silence, pauses, and
	// consonant closures.
	MouthClosed MouthShape = iota

	// MouthA is the wide-open shape ("a" and "e" vowels).
	MouthA

	// MouthI is the spread shape ("i" vowel).
	MouthI

	// MouthO is the rounded shape ("o", "u", and syllabic "n").
	MouthO
)

// String returns the shape name used on the wire toward face renderers.
func (s MouthShape) String() string {
	switch s {
	case MouthA:
		return "mouth_a"
	case MouthI:
		return "mouth_i"
	case MouthO:
		return "mouth_o"
	default:
		return "closed"
	}
}

// MouthEvent is one entry of a mouth-shape timeline: at Offset from the
// start of the audio, the mouth moves to Shape and holds it until the next
// event.
type MouthEvent struct {
	Offset time.Duration
	Shape  MouthShape
}

// SynthesizedAudio is the result of rendering one text chunk.
type SynthesizedAudio struct {
	// PCM is raw 16-bit little-endian mono audio.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Mouth is the mouth-shape timeline aligned to PCM, ordered by Offset.
	// The final event returns the mouth to MouthClosed. May be empty for
	// backends without phoneme timing.
	Mouth []MouthEvent
}

// Duration returns the play time of the synthesized audio.
func (a SynthesizedAudio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)/2) * time.Second / time.Duration(a.SampleRate)
}

// VoiceProfile selects the speaker and prosody for synthesis.
type VoiceProfile struct {
	// SpeakerID is the backend's numeric voice/style identifier.
	SpeakerID int

	// SpeedScale multiplies speaking speed. 1.0 is neutral; 0 means default.
	SpeedScale float64

	// PitchScale shifts pitch. 0.0 is neutral.
	PitchScale float64

	// IntonationScale scales pitch variation. 1.0 is neutral; 0 means default.
	IntonationScale float64
}
