package pipeline

import (
	"errors"
	"fmt"
)

// Stage names used in error reports and metrics.
const (
	StageCapture     = "capture"
	StageRecognition = "recognition"
	StageGeneration  = "generation"
	StageSynthesis   = "synthesis"
	StagePlayback    = "playback"
)

// Failure kinds surfaced on the orchestrator's error channel. Match with
// [errors.Is].
var (
	// ErrCaptureFailure means the microphone stream ended or broke.
	ErrCaptureFailure = errors.New("capture failure")

	// ErrRecognitionFailed means speech recognition returned an error for
	// an utterance. The utterance is dropped.
	ErrRecognitionFailed = errors.New("recognition failed")

	// ErrGenerationFailed means the language model stream broke. The
	// spoken fallback phrase has already been scheduled by then.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrSynthesisFailed means a text chunk could not be synthesized and
	// was skipped.
	ErrSynthesisFailed = errors.New("synthesis failed")

	// ErrPlaybackUnderrun means the playback device starved mid-reply.
	ErrPlaybackUnderrun = errors.New("playback underrun")

	// ErrCollaboratorTimeout means an external service missed its
	// per-attempt deadline, retries included.
	ErrCollaboratorTimeout = errors.New("collaborator timeout")
)

// StageError ties a failure to the pipeline stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// stageErr builds a [StageError] wrapping kind and the underlying cause.
func stageErr(stage string, kind, cause error) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, cause)}
}
