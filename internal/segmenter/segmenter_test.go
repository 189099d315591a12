package segmenter

import (
	"testing"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/audio"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
	vadmock "github.com/hibiki-voice/hibiki/pkg/provider/vad/mock"
)

const (
	testRate    = 16000
	frameMs     = 20
	frameBytes  = testRate * frameMs / 1000 * 2
	frameLength = time.Duration(frameMs) * time.Millisecond
)

// feedFrames pushes n frames through a channel with consecutive timestamps.
func feedFrames(n int) <-chan audio.AudioFrame {
	ch := make(chan audio.AudioFrame, n)
	for i := 0; i < n; i++ {
		ch <- audio.AudioFrame{
			Data:       make([]byte, frameBytes),
			SampleRate: testRate,
			Channels:   1,
			Timestamp:  time.Duration(i) * frameLength,
		}
	}
	close(ch)
	return ch
}

// script builds a VAD event sequence: silence, speech, then trailing silence.
func script(lead, speech, tail int) []vad.VADEvent {
	var evs []vad.VADEvent
	for i := 0; i < lead; i++ {
		evs = append(evs, vad.VADEvent{Type: vad.VADSilence})
	}
	for i := 0; i < speech; i++ {
		t := vad.VADSpeechContinue
		if i == 0 {
			t = vad.VADSpeechStart
		}
		evs = append(evs, vad.VADEvent{Type: t, Probability: 0.9})
	}
	for i := 0; i < tail; i++ {
		t := vad.VADSilence
		if i == 0 {
			t = vad.VADSpeechEnd
		}
		evs = append(evs, vad.VADEvent{Type: t})
	}
	return evs
}

func collect(t *testing.T, s *Segmenter, frames <-chan audio.AudioFrame) []Utterance {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(frames) }()

	var out []Utterance
	for u := range s.Utterances() {
		out = append(out, u)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

func TestSegmenter_CommitsOnHangover(t *testing.T) {
	t.Parallel()

	// 5 silent frames, 10 speech frames, 25 silent frames. With a 400 ms
	// hangover (20 frames) the utterance commits during the tail.
	sess := &vadmock.Session{Script: script(5, 10, 25)}
	s := New(sess, Config{Hangover: 400 * time.Millisecond, PreRoll: 40 * time.Millisecond}, nil)

	utts := collect(t, s, feedFrames(40))
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	u := utts[0]
	if u.Seq != 1 {
		t.Errorf("Seq = %d, want 1", u.Seq)
	}
	if u.Reason != ReasonSilence {
		t.Errorf("Reason = %v, want %v", u.Reason, ReasonSilence)
	}
	// 10 speech frames + 20 hangover frames + 2 pre-roll frames (40 ms).
	wantFrames := 10 + 20 + 2
	if got := len(u.PCM) / frameBytes; got != wantFrames {
		t.Errorf("utterance spans %d frames, want %d", got, wantFrames)
	}
	if sess.ResetCallCount == 0 {
		t.Error("expected session Reset after commit")
	}
}

func TestSegmenter_HangoverBoundary(t *testing.T) {
	t.Parallel()

	// A 100 ms hangover is exactly 5 frames of trailing silence.
	t.Run("one frame short stays open", func(t *testing.T) {
		t.Parallel()
		sess := &vadmock.Session{Script: script(0, 5, 4)}
		s := New(sess, Config{Hangover: 100 * time.Millisecond}, nil)

		utts := collect(t, s, feedFrames(9))
		if len(utts) != 1 {
			t.Fatalf("got %d utterances, want 1", len(utts))
		}
		// 80 ms of silence must not commit; only the closing stream does.
		if utts[0].Reason != ReasonStreamEnd {
			t.Errorf("Reason = %v, want %v", utts[0].Reason, ReasonStreamEnd)
		}
	})

	t.Run("exactly the hangover commits", func(t *testing.T) {
		t.Parallel()
		sess := &vadmock.Session{Script: script(0, 5, 5)}
		s := New(sess, Config{Hangover: 100 * time.Millisecond}, nil)

		utts := collect(t, s, feedFrames(10))
		if len(utts) != 1 {
			t.Fatalf("got %d utterances, want 1", len(utts))
		}
		if utts[0].Reason != ReasonSilence {
			t.Errorf("Reason = %v, want %v", utts[0].Reason, ReasonSilence)
		}
		if got := len(utts[0].PCM) / frameBytes; got != 10 {
			t.Errorf("utterance spans %d frames, want 10", got)
		}
	})

	t.Run("one frame past the hangover is excluded", func(t *testing.T) {
		t.Parallel()
		sess := &vadmock.Session{Script: script(0, 5, 6)}
		s := New(sess, Config{Hangover: 100 * time.Millisecond}, nil)

		utts := collect(t, s, feedFrames(11))
		if len(utts) != 1 {
			t.Fatalf("got %d utterances, want 1", len(utts))
		}
		if utts[0].Reason != ReasonSilence {
			t.Errorf("Reason = %v, want %v", utts[0].Reason, ReasonSilence)
		}
		// The commit happened on the fifth silent frame; the sixth belongs
		// to the next utterance's pre-roll.
		if got := len(utts[0].PCM) / frameBytes; got != 10 {
			t.Errorf("utterance spans %d frames, want 10", got)
		}
	})
}

func TestSegmenter_PreRollPrecedesOnset(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Script: script(10, 5, 25)}
	s := New(sess, Config{Hangover: 400 * time.Millisecond, PreRoll: 100 * time.Millisecond}, nil)

	utts := collect(t, s, feedFrames(40))
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	// The utterance must start before the onset frame: 100 ms pre-roll is
	// 5 frames, so the first included frame is at timestamp (10-5)*20 ms.
	wantStart := 5 * frameLength
	if utts[0].Start != wantStart {
		t.Errorf("Start = %v, want %v", utts[0].Start, wantStart)
	}
}

func TestSegmenter_MaxDurationCap(t *testing.T) {
	t.Parallel()

	// Continuous speech with no trailing silence; only the cap can commit.
	sess := &vadmock.Session{Script: script(0, 100, 0)}
	s := New(sess, Config{
		Hangover:     400 * time.Millisecond,
		MaxUtterance: 1 * time.Second, // 50 frames
		PreRoll:      40 * time.Millisecond,
	}, nil)

	utts := collect(t, s, feedFrames(50))
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	if utts[0].Reason != ReasonMaxDuration {
		t.Errorf("Reason = %v, want %v", utts[0].Reason, ReasonMaxDuration)
	}
	if utts[0].Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", utts[0].Duration)
	}
}

func TestSegmenter_StreamEndCommitsPartial(t *testing.T) {
	t.Parallel()

	// Speech starts but the stream closes before any hangover.
	sess := &vadmock.Session{Script: script(0, 10, 0)}
	s := New(sess, Config{}, nil)

	utts := collect(t, s, feedFrames(10))
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	if utts[0].Reason != ReasonStreamEnd {
		t.Errorf("Reason = %v, want %v", utts[0].Reason, ReasonStreamEnd)
	}
}

func TestSegmenter_OnSpeechStartFiresOncePerUtterance(t *testing.T) {
	t.Parallel()

	// The callback runs on the segmenter goroutine; the read below is
	// ordered after it by the Run completion channel.
	var onsets int
	sess := &vadmock.Session{Script: script(5, 10, 25)}
	s := New(sess, Config{
		Hangover:      400 * time.Millisecond,
		OnSpeechStart: func() { onsets++ },
	}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(feedFrames(40)) }()
	for range s.Utterances() {
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if onsets != 1 {
		t.Fatalf("onset callback fired %d times, want 1", onsets)
	}
}

func TestSegmenter_SilenceOnlyEmitsNothing(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}
	s := New(sess, Config{}, nil)

	utts := collect(t, s, feedFrames(30))
	if len(utts) != 0 {
		t.Fatalf("got %d utterances, want 0", len(utts))
	}
}

func TestSegmenter_MultipleUtterances(t *testing.T) {
	t.Parallel()

	evs := script(2, 5, 21)            // first utterance
	evs = append(evs, script(0, 5, 21)...) // second utterance
	sess := &vadmock.Session{Script: evs}
	s := New(sess, Config{Hangover: 400 * time.Millisecond, PreRoll: 40 * time.Millisecond}, nil)

	utts := collect(t, s, feedFrames(54))
	if len(utts) != 2 {
		t.Fatalf("got %d utterances, want 2", len(utts))
	}
	if utts[0].Seq != 1 || utts[1].Seq != 2 {
		t.Errorf("Seq = %d,%d, want 1,2", utts[0].Seq, utts[1].Seq)
	}
}
