// Package mock provides test doubles for the stt package interfaces.
//
// Use Recognizer to script transcripts and inspect the requests that were
// submitted for recognition.
package mock

import (
	"context"
	"sync"

	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Req is the Request passed to Recognize. PCM is a copy.
	Req stt.Request
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Result is returned by every Recognize call when Script is empty.
	Result stt.Transcript

	// Script, when non-empty, is consumed one entry per Recognize call.
	// Once exhausted, Recognize falls back to Result.
	Script []ScriptEntry

	// RecognizeErr, if non-nil, is returned by every Recognize call
	// when Script is empty.
	RecognizeErr error

	// Delay, if non-nil, is received from before returning; this lets tests
	// simulate a slow backend. Recognize still honors ctx cancellation.
	Delay <-chan struct{}

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall
}

// ScriptEntry is one scripted Recognize response.
type ScriptEntry struct {
	Transcript stt.Transcript
	Err        error
}

// Recognize records the call and returns the next scripted response.
func (r *Recognizer) Recognize(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	r.mu.Lock()
	cp := req
	cp.PCM = make([]byte, len(req.PCM))
	copy(cp.PCM, req.PCM)
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Req: cp})

	var (
		result stt.Transcript
		err    error
	)
	if len(r.Script) > 0 {
		entry := r.Script[0]
		r.Script = r.Script[1:]
		result, err = entry.Transcript, entry.Err
	} else {
		result, err = r.Result, r.RecognizeErr
	}
	delay := r.Delay
	r.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return stt.Transcript{}, ctx.Err()
	}
	return result, err
}

// Calls returns how many Recognize invocations were recorded. Thread-safe.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecognizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecognizeCalls = nil
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
