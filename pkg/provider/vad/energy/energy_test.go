package energy

import (
	"testing"

	"github.com/hibiki-voice/hibiki/pkg/audio"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
)

var testCfg = vad.Config{
	SampleRate:       16000,
	FrameSizeMs:      20,
	SpeechThreshold:  0.5,
	SilenceThreshold: 0.35,
}

// frame builds a 20 ms frame of constant amplitude, whose RMS equals amp.
func frame(amp int16) []byte {
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = amp
	}
	return audio.Int16sToBytes(samples)
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()

	e := New()
	cases := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero sample rate", vad.Config{FrameSizeMs: 20, SpeechThreshold: 0.5}},
		{"zero frame size", vad.Config{SampleRate: 16000, SpeechThreshold: 0.5}},
		{"speech threshold above one", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5}},
		{"silence above speech", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.4, SilenceThreshold: 0.6}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.NewSession(tc.cfg); err == nil {
				t.Errorf("NewSession accepted %+v", tc.cfg)
			}
		})
	}
}

func TestProcessFrame_SpeechLifecycle(t *testing.T) {
	t.Parallel()

	// Window of one frame makes transitions immediate.
	sess, err := New(WithSmoothingWindow(1)).NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	steps := []struct {
		amp  int16
		want vad.VADEventType
	}{
		{0, vad.VADSilence},
		{1200, vad.VADSpeechStart},
		{1200, vad.VADSpeechContinue},
		{1200, vad.VADSpeechContinue},
		{0, vad.VADSpeechEnd},
		{0, vad.VADSilence},
	}
	for i, step := range steps {
		ev, err := sess.ProcessFrame(frame(step.amp))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != step.want {
			t.Errorf("frame %d: event = %v, want %v", i, ev.Type, step.want)
		}
	}
}

func TestProcessFrame_SmoothingDelaysOnset(t *testing.T) {
	t.Parallel()

	sess, err := New(WithSmoothingWindow(4)).NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	// Two silent frames prime the window, then loud frames raise the
	// average: [0 0 1] = 0.33 is still silence, [0 0 1 1] = 0.5 starts.
	wants := []vad.VADEventType{
		vad.VADSilence,
		vad.VADSilence,
		vad.VADSilence,
		vad.VADSpeechStart,
	}
	amps := []int16{0, 0, 1200, 1200}
	for i, want := range wants {
		ev, err := sess.ProcessFrame(frame(amps[i]))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != want {
			t.Errorf("frame %d: event = %v (p=%.2f), want %v", i, ev.Type, ev.Probability, want)
		}
	}
}

func TestProcessFrame_RejectsWrongFrameSize(t *testing.T) {
	t.Parallel()

	sess, err := New().NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	if _, err := sess.ProcessFrame(make([]byte, 100)); err == nil {
		t.Error("ProcessFrame accepted a short frame")
	}
}

func TestReset_ClearsSpeechState(t *testing.T) {
	t.Parallel()

	sess, err := New(WithSmoothingWindow(1)).NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	if ev, _ := sess.ProcessFrame(frame(1200)); ev.Type != vad.VADSpeechStart {
		t.Fatalf("event = %v, want speech start", ev.Type)
	}
	sess.Reset()

	// After a reset, silence must not report a speech end.
	ev, err := sess.ProcessFrame(frame(0))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.VADSilence {
		t.Errorf("event after reset = %v, want silence", ev.Type)
	}
}

func TestProcessFrame_ClosedSession(t *testing.T) {
	t.Parallel()

	sess, err := New().NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess.Close()
	if _, err := sess.ProcessFrame(frame(0)); err == nil {
		t.Error("ProcessFrame succeeded on a closed session")
	}
}
