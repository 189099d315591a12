// Package segmenter turns a continuous microphone frame stream into discrete
// utterances using a VAD engine.
//
// The segmenter keeps a short pre-roll ring of recent frames so that the
// first syllable of an utterance, which the VAD only flags a few frames in,
// is not clipped. After speech begins, a hangover window of trailing silence
// is required before the utterance is committed; a hard duration cap commits
// it regardless, so a stuck-open VAD cannot buffer audio without bound.
//
// A speech onset observed while the assistant is speaking is the barge-in
// trigger; the segmenter surfaces onsets through a callback so the
// orchestrator can bump the epoch before the utterance completes.
package segmenter

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/audio"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
)

const (
	// defaultHangover is the trailing silence that ends an utterance.
	defaultHangover = 400 * time.Millisecond

	// defaultMaxUtterance caps a single utterance's duration.
	defaultMaxUtterance = 30 * time.Second

	// defaultPreRoll is how much audio preceding the detected onset is
	// prepended to the utterance.
	defaultPreRoll = 240 * time.Millisecond
)

// Reason records why an utterance was committed.
type Reason int

const (
	// ReasonSilence means the hangover window elapsed after speech.
	ReasonSilence Reason = iota

	// ReasonMaxDuration means the duration cap forced the commit.
	ReasonMaxDuration

	// ReasonStreamEnd means the frame stream closed mid-utterance.
	ReasonStreamEnd
)

// String returns the reason name used in logs.
func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonStreamEnd:
		return "stream_end"
	default:
		return "unknown"
	}
}

// Utterance is one committed speech segment.
type Utterance struct {
	// Seq numbers utterances within the stream, starting at 1.
	Seq int

	// PCM is the concatenated 16-bit LE audio, pre-roll included.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Start is the capture timestamp of the first buffered frame.
	Start time.Duration

	// Duration is the total play time of PCM.
	Duration time.Duration

	// Reason records what committed the utterance.
	Reason Reason
}

// Config holds segmenter tuning. Zero values select the defaults above.
type Config struct {
	Hangover     time.Duration
	MaxUtterance time.Duration
	PreRoll      time.Duration

	// OnSpeechStart, when non-nil, is invoked synchronously the moment the
	// VAD reports an onset. It runs on the segmenter goroutine and must not
	// block.
	OnSpeechStart func()
}

// Segmenter consumes frames and emits utterances. Run owns all mutable
// state; it is started once and the instance is not reusable.
type Segmenter struct {
	session vad.SessionHandle
	cfg     Config
	logger  *slog.Logger

	out chan Utterance
}

// New creates a segmenter around an open VAD session. The caller retains
// ownership of the session and closes it after Run returns.
func New(session vad.SessionHandle, cfg Config, logger *slog.Logger) *Segmenter {
	if cfg.Hangover <= 0 {
		cfg.Hangover = defaultHangover
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = defaultMaxUtterance
	}
	if cfg.PreRoll <= 0 {
		cfg.PreRoll = defaultPreRoll
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		session: session,
		cfg:     cfg,
		logger:  logger,
		out:     make(chan Utterance, 4),
	}
}

// Utterances returns the output stream. The channel is closed when Run
// returns.
func (s *Segmenter) Utterances() <-chan Utterance { return s.out }

// Run processes frames until the input channel closes. A partial utterance
// still buffered at stream end is committed with ReasonStreamEnd. Run
// returns the first frame-processing error, after closing the output.
func (s *Segmenter) Run(frames <-chan audio.AudioFrame) error {
	defer close(s.out)

	var (
		preRoll   ring
		buffered  []audio.AudioFrame
		inSpeech  bool
		silence   time.Duration
		speechLen time.Duration
		seq       int
	)

	commit := func(reason Reason) {
		if len(buffered) == 0 {
			return
		}
		seq++
		s.out <- s.build(seq, buffered, reason)
		buffered = nil
		inSpeech = false
		silence = 0
		speechLen = 0
		s.session.Reset()
	}

	for frame := range frames {
		ev, err := s.session.ProcessFrame(frame.Data)
		if err != nil {
			commit(ReasonStreamEnd)
			return fmt.Errorf("segmenter: process frame: %w", err)
		}

		if !inSpeech {
			switch ev.Type {
			case vad.VADSpeechStart:
				inSpeech = true
				buffered = append(buffered, preRoll.drain()...)
				buffered = append(buffered, frame)
				speechLen = frame.Duration()
				if s.cfg.OnSpeechStart != nil {
					s.cfg.OnSpeechStart()
				}
				s.logger.Debug("speech onset", "probability", ev.Probability, "at", frame.Timestamp)
			default:
				preRoll.push(frame, s.cfg.PreRoll)
			}
			continue
		}

		buffered = append(buffered, frame)
		speechLen += frame.Duration()

		switch ev.Type {
		case vad.VADSpeechEnd, vad.VADSilence:
			silence += frame.Duration()
			if silence >= s.cfg.Hangover {
				commit(ReasonSilence)
				continue
			}
		default:
			silence = 0
		}

		if speechLen >= s.cfg.MaxUtterance {
			s.logger.Warn("utterance hit duration cap", "cap", s.cfg.MaxUtterance)
			commit(ReasonMaxDuration)
		}
	}

	commit(ReasonStreamEnd)
	return nil
}

// build assembles the committed frames into an Utterance.
func (s *Segmenter) build(seq int, frames []audio.AudioFrame, reason Reason) Utterance {
	var size int
	for _, f := range frames {
		size += len(f.Data)
	}
	pcm := make([]byte, 0, size)
	var dur time.Duration
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
		dur += f.Duration()
	}
	return Utterance{
		Seq:        seq,
		PCM:        pcm,
		SampleRate: frames[0].SampleRate,
		Start:      frames[0].Timestamp,
		Duration:   dur,
		Reason:     reason,
	}
}

// ring is a small FIFO of recent frames bounded by total duration.
type ring struct {
	frames []audio.AudioFrame
	total  time.Duration
}

func (r *ring) push(f audio.AudioFrame, limit time.Duration) {
	r.frames = append(r.frames, f)
	r.total += f.Duration()
	for len(r.frames) > 0 && r.total-r.frames[0].Duration() >= limit {
		r.total -= r.frames[0].Duration()
		r.frames = r.frames[1:]
	}
}

func (r *ring) drain() []audio.AudioFrame {
	out := r.frames
	r.frames = nil
	r.total = 0
	return out
}
