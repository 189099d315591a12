package stt

// Transcript represents a speech-to-text result.
type Transcript struct {
	// Text is the transcribed speech content, whitespace-trimmed.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero means the
	// engine does not report confidence; consumers should treat zero as
	// "unknown" rather than "certainly wrong".
	Confidence float64

	// Language is the language the engine detected or was told to use.
	Language string
}
