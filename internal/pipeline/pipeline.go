// Package pipeline orchestrates the spoken-dialogue loop: microphone frames
// are segmented into utterances, recognized, answered by the language model,
// synthesized chunk by chunk, and played back with a synchronized mouth
// timeline.
//
// The orchestrator owns the session's epoch. Every reply is tagged with a
// fresh epoch; a barge-in bumps it, flushes playback, and cancels the
// in-flight reply so every downstream stage drops the stale work on its own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hibiki-voice/hibiki/internal/chunker"
	"github.com/hibiki-voice/hibiki/internal/dialogue"
	"github.com/hibiki-voice/hibiki/internal/observe"
	"github.com/hibiki-voice/hibiki/internal/playback"
	"github.com/hibiki-voice/hibiki/internal/resilience"
	"github.com/hibiki-voice/hibiki/internal/segmenter"
	"github.com/hibiki-voice/hibiki/internal/session"
	"github.com/hibiki-voice/hibiki/internal/wakeword"
	"github.com/hibiki-voice/hibiki/pkg/audio"
	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
	"github.com/hibiki-voice/hibiki/pkg/provider/vad"
)

const (
	// defaultRecognitionTimeout bounds one recognition attempt. Each
	// utterance gets two attempts before it is dropped.
	defaultRecognitionTimeout = 10 * time.Second

	// defaultSynthesisWorkers is how many chunks are synthesized in
	// parallel. Playback restores order by chunk index.
	defaultSynthesisWorkers = 2

	// synthesisJobBuf is the depth of the per-reply synthesis queue.
	synthesisJobBuf = 8
)

// Config holds orchestrator construction parameters.
type Config struct {
	Platform    audio.Platform
	VAD         vad.Engine
	Recognizer  stt.Recognizer
	Dialogue    *dialogue.Manager
	Synthesizer tts.Synthesizer

	// VADSession configures the detector session. Zero fields get the
	// 16 kHz / 20 ms defaults.
	VADSession vad.Config

	// Voice is passed to every synthesis call.
	Voice tts.VoiceProfile

	// Mouth may be nil to disable lip sync.
	Mouth playback.MouthSink

	// Wake gates the dialogue behind a spoken phrase. Nil means every
	// utterance reaches the dialogue stage.
	Wake *wakeword.Gate

	// Session may be provided to share state with the surrounding server.
	// Nil creates a fresh one.
	Session *session.Session

	// Metrics may be nil to disable instrumentation.
	Metrics *observe.Metrics

	// Segmenter tunes utterance segmentation. OnSpeechStart is owned by
	// the orchestrator and must be left nil.
	Segmenter segmenter.Config

	// ChunkRunes caps text chunk length. Zero selects the default.
	ChunkRunes int

	// RecognitionTimeout bounds each recognition attempt.
	RecognitionTimeout time.Duration

	// SynthesisWorkers sets the synthesis parallelism per reply.
	SynthesisWorkers int

	// PlaybackTick, when non-nil, replaces the playback scheduler's
	// internal ticker; tests drive it deterministically.
	PlaybackTick <-chan time.Time

	// ComfortBuffer is passed through to the playback coordinator.
	ComfortBuffer time.Duration

	// Language hints the recognizer (e.g., "ja").
	Language string

	Logger *slog.Logger
}

// Orchestrator runs one conversation session end to end.
type Orchestrator struct {
	platform   audio.Platform
	vadEngine  vad.Engine
	vadCfg     vad.Config
	recognizer stt.Recognizer
	dialogue   *dialogue.Manager
	synth      tts.Synthesizer
	voice      tts.VoiceProfile
	mouth      playback.MouthSink
	gate       *wakeword.Gate
	sess       *session.Session
	metrics    *observe.Metrics
	logger     *slog.Logger

	segCfg       segmenter.Config
	chunkRunes   int
	recogTimeout time.Duration
	synthWorkers int
	tick         <-chan time.Time
	comfort      time.Duration
	language     string

	synthBreaker *resilience.Breaker
	playback     *playback.Coordinator

	engaged atomic.Bool

	replyMu     sync.Mutex
	replyCancel context.CancelFunc
	replyWG     sync.WaitGroup

	errs chan error
}

// New creates an orchestrator. Call Run to start the session.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Platform == nil {
		return nil, errors.New("pipeline: platform must not be nil")
	}
	if cfg.VAD == nil {
		return nil, errors.New("pipeline: vad engine must not be nil")
	}
	if cfg.Recognizer == nil {
		return nil, errors.New("pipeline: recognizer must not be nil")
	}
	if cfg.Dialogue == nil {
		return nil, errors.New("pipeline: dialogue manager must not be nil")
	}
	if cfg.Synthesizer == nil {
		return nil, errors.New("pipeline: synthesizer must not be nil")
	}
	if cfg.Segmenter.OnSpeechStart != nil {
		return nil, errors.New("pipeline: segmenter OnSpeechStart is owned by the orchestrator")
	}
	if cfg.Session == nil {
		cfg.Session = session.New()
	}
	if cfg.RecognitionTimeout <= 0 {
		cfg.RecognitionTimeout = defaultRecognitionTimeout
	}
	if cfg.SynthesisWorkers <= 0 {
		cfg.SynthesisWorkers = defaultSynthesisWorkers
	}
	if cfg.VADSession.SampleRate == 0 {
		cfg.VADSession.SampleRate = 16000
	}
	if cfg.VADSession.FrameSizeMs == 0 {
		cfg.VADSession.FrameSizeMs = 20
	}
	if cfg.VADSession.SpeechThreshold == 0 {
		cfg.VADSession.SpeechThreshold = 0.5
	}
	if cfg.VADSession.SilenceThreshold == 0 {
		cfg.VADSession.SilenceThreshold = 0.35
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		platform:     cfg.Platform,
		vadEngine:    cfg.VAD,
		vadCfg:       cfg.VADSession,
		recognizer:   cfg.Recognizer,
		dialogue:     cfg.Dialogue,
		synth:        cfg.Synthesizer,
		voice:        cfg.Voice,
		mouth:        cfg.Mouth,
		gate:         cfg.Wake,
		sess:         cfg.Session,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("session_id", cfg.Session.ID()),
		segCfg:       cfg.Segmenter,
		chunkRunes:   cfg.ChunkRunes,
		recogTimeout: cfg.RecognitionTimeout,
		synthWorkers: cfg.SynthesisWorkers,
		tick:         cfg.PlaybackTick,
		comfort:      cfg.ComfortBuffer,
		language:     cfg.Language,
		synthBreaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "tts", Logger: cfg.Logger}),
		errs:         make(chan error, 16),
	}, nil
}

// Session returns the orchestrated session.
func (o *Orchestrator) Session() *session.Session { return o.sess }

// Errors returns the operator-facing error stream. Entries are
// [*StageError]; the channel never closes and drops when full.
func (o *Orchestrator) Errors() <-chan error { return o.errs }

// Run drives the session until ctx is cancelled or the capture stream
// breaks. It always leaves the session in StateClosed.
func (o *Orchestrator) Run(ctx context.Context) error {
	capture, player, err := o.platform.Open(ctx)
	if err != nil {
		return stageErr(StageCapture, ErrCaptureFailure, err)
	}

	vadSess, err := o.vadEngine.NewSession(o.vadCfg)
	if err != nil {
		capture.Close()
		return fmt.Errorf("pipeline: open vad session: %w", err)
	}
	defer vadSess.Close()

	pb, err := playback.New(playback.Config{
		Player:        player,
		Mouth:         o.mouth,
		Tick:          o.tick,
		ComfortBuffer: o.comfort,
		Logger:        o.logger,
	})
	if err != nil {
		capture.Close()
		return err
	}
	o.playback = pb

	segCfg := o.segCfg
	segCfg.OnSpeechStart = o.onSpeechStart
	seg := segmenter.New(vadSess, segCfg, o.logger)

	if o.gate == nil {
		o.engaged.Store(true)
		o.transition(session.StateListening)
	}

	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, 1)
		defer o.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	o.logger.Info("session started", "engaged", o.engaged.Load())

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return pb.Run(egCtx)
	})
	eg.Go(func() error {
		// Closing the capture unblocks the segmenter's frame loop.
		<-egCtx.Done()
		capture.Close()
		return nil
	})
	eg.Go(func() error {
		return seg.Run(capture.Frames())
	})
	eg.Go(func() error {
		return o.consumeUtterances(egCtx, seg.Utterances())
	})
	eg.Go(func() error {
		o.forwardPlaybackErrors(egCtx)
		return nil
	})

	err = eg.Wait()
	o.replyWG.Wait()
	o.transition(session.StateClosed)
	o.logger.Info("session closed", "epoch", o.sess.Epoch())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consumeUtterances is the main dialogue loop. It returns an error only when
// the capture stream ends while the context is still live, which cancels the
// whole group.
func (o *Orchestrator) consumeUtterances(ctx context.Context, utts <-chan segmenter.Utterance) error {
	for utt := range utts {
		o.handleUtterance(ctx, utt)
	}
	if ctx.Err() == nil {
		err := stageErr(StageCapture, ErrCaptureFailure, errors.New("audio stream ended"))
		o.report(err)
		return err
	}
	return nil
}

func (o *Orchestrator) handleUtterance(ctx context.Context, utt segmenter.Utterance) {
	if o.metrics != nil {
		o.metrics.RecordUtterance(ctx, utt.Reason.String())
	}
	engaged := o.engaged.Load()
	if engaged {
		o.transition(session.StateRecognizing)
	}

	start := time.Now()
	transcript, err := o.recognize(ctx, utt)
	if o.metrics != nil {
		o.metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() == nil {
			o.report(err)
		}
		if engaged {
			o.transition(session.StateListening)
		}
		return
	}

	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		if engaged {
			o.transition(session.StateListening)
		}
		return
	}
	o.logger.Debug("utterance recognized",
		"seq", utt.Seq, "reason", utt.Reason.String(), "text", text)

	if !engaged {
		if !o.gate.Detect(transcript) {
			return
		}
		o.engaged.Store(true)
		if o.metrics != nil {
			o.metrics.WakeWords.Add(ctx, 1)
		}
		o.logger.Info("wake phrase detected", "text", text)
		o.transition(session.StateListening)
		o.transition(session.StateRecognizing)
	}

	o.startReply(ctx, text)
}

// recognize transcribes one utterance with a single bounded retry.
func (o *Orchestrator) recognize(ctx context.Context, utt segmenter.Utterance) (stt.Transcript, error) {
	var transcript stt.Transcript
	err := resilience.Retry(ctx,
		resilience.RetryConfig{Attempts: 2, AttemptTimeout: o.recogTimeout},
		func(ctx context.Context) error {
			var rerr error
			transcript, rerr = o.recognizer.Recognize(ctx, stt.Request{
				PCM:        utt.PCM,
				SampleRate: utt.SampleRate,
				Channels:   1,
				Language:   o.language,
			})
			return rerr
		})
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordPipelineError(ctx, StageRecognition)
		}
		cause := err
		if errors.Is(err, context.DeadlineExceeded) {
			// Exhausted timeouts are still a recognition failure; tag the
			// timeout kind on top so callers can match either.
			cause = fmt.Errorf("%w: %w", ErrCollaboratorTimeout, err)
		}
		return transcript, stageErr(StageRecognition, ErrRecognitionFailed, cause)
	}
	return transcript, nil
}

// startReply cancels any in-flight reply, advances the epoch, and launches
// the generation goroutine for this turn.
func (o *Orchestrator) startReply(ctx context.Context, text string) {
	o.replyMu.Lock()
	if o.replyCancel != nil {
		o.replyCancel()
	}
	replyCtx, cancel := context.WithCancel(ctx)
	o.replyCancel = cancel
	o.replyMu.Unlock()

	epoch := o.sess.BumpEpoch()
	o.transition(session.StateThinking)
	o.playback.Activate(epoch)

	o.replyWG.Add(1)
	go o.runReply(replyCtx, epoch, text, time.Now())
}

// runReply streams the language-model reply, chunks it, fans the chunks out
// to synthesis workers, and waits for playback to finish.
func (o *Orchestrator) runReply(ctx context.Context, epoch int64, text string, started time.Time) {
	defer o.replyWG.Done()

	deltas := o.dialogue.Reply(ctx, epoch, text)
	jobs := make(chan chunker.TextChunk, synthesisJobBuf)

	var (
		spoke sync.Once
		wg    sync.WaitGroup
	)
	for i := 0; i < o.synthWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.synthWorker(ctx, jobs, started, &spoke)
		}()
	}

	ch := chunker.New(epoch, o.chunkRunes)
	for delta := range deltas {
		if delta.Text != "" {
			for _, tc := range ch.Feed(delta.Text) {
				o.enqueueJob(ctx, jobs, tc)
			}
		}
		if delta.Err != nil && ctx.Err() == nil {
			if o.metrics != nil {
				o.metrics.RecordPipelineError(ctx, StageGeneration)
			}
			o.report(stageErr(StageGeneration, ErrGenerationFailed, delta.Err))
		}
		if delta.Final {
			o.enqueueJob(ctx, jobs, ch.Flush())
		}
	}
	close(jobs)
	wg.Wait()

	if o.metrics != nil {
		o.metrics.GenerationDuration.Record(ctx, time.Since(started).Seconds())
	}
	if ctx.Err() != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ep := <-o.playback.Completed():
			if ep != epoch {
				continue
			}
			o.transition(session.StateListening)
			o.logger.Debug("reply completed", "epoch", epoch)
			return
		}
	}
}

func (o *Orchestrator) enqueueJob(ctx context.Context, jobs chan<- chunker.TextChunk, tc chunker.TextChunk) {
	if o.metrics != nil {
		o.metrics.SynthesisBacklog.Add(ctx, 1)
	}
	select {
	case jobs <- tc:
	case <-ctx.Done():
		if o.metrics != nil {
			o.metrics.SynthesisBacklog.Add(context.Background(), -1)
		}
	}
}

// synthWorker turns text chunks into audio. A failed chunk becomes a
// tombstone so playback order keeps moving.
func (o *Orchestrator) synthWorker(ctx context.Context, jobs <-chan chunker.TextChunk, started time.Time, spoke *sync.Once) {
	for tc := range jobs {
		if o.metrics != nil {
			o.metrics.SynthesisBacklog.Add(context.Background(), -1)
		}

		out := playback.Chunk{Epoch: tc.Epoch, Index: tc.Index, Final: tc.Final}
		if tc.Text != "" && o.sess.Epoch() == tc.Epoch {
			start := time.Now()
			var synthesized tts.SynthesizedAudio
			err := o.synthBreaker.Do(func() error {
				var serr error
				synthesized, serr = o.synth.Synthesize(ctx, tc.Text, o.voice)
				return serr
			})
			if o.metrics != nil {
				o.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
			}
			if err != nil {
				if ctx.Err() == nil {
					if o.metrics != nil {
						o.metrics.RecordPipelineError(ctx, StageSynthesis)
					}
					o.report(stageErr(StageSynthesis, ErrSynthesisFailed, err))
				}
			} else {
				out.Audio = synthesized
				spoke.Do(func() {
					o.transition(session.StateSpeaking)
					if o.metrics != nil {
						o.metrics.ReplyLatency.Record(ctx, time.Since(started).Seconds())
					}
				})
			}
		}
		o.playback.Enqueue(out)
	}
}

// onSpeechStart runs on the segmenter goroutine at every voice onset. While
// a reply is in flight this is a barge-in: make the reply stale and silence
// the player. The session stays in StateInterrupted until the interrupting
// utterance commits and handleUtterance moves it to recognition.
func (o *Orchestrator) onSpeechStart() {
	st := o.sess.State()
	if st != session.StateThinking && st != session.StateSpeaking {
		return
	}
	o.transition(session.StateInterrupted)
	o.sess.BumpEpoch()

	o.replyMu.Lock()
	if o.replyCancel != nil {
		o.replyCancel()
		o.replyCancel = nil
	}
	o.replyMu.Unlock()

	o.playback.Flush()
	if o.metrics != nil {
		o.metrics.BargeIns.Add(context.Background(), 1)
	}
	o.logger.Info("barge-in", "epoch", o.sess.Epoch())
}

func (o *Orchestrator) forwardPlaybackErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-o.playback.Errors():
			if o.metrics != nil {
				o.metrics.RecordPipelineError(ctx, StagePlayback)
			}
			o.report(stageErr(StagePlayback, ErrPlaybackUnderrun, err))
		}
	}
}

func (o *Orchestrator) transition(next session.State) {
	if err := o.sess.Transition(next); err != nil {
		o.logger.Debug("state transition skipped", "error", err)
	}
}

func (o *Orchestrator) report(err error) {
	select {
	case o.errs <- err:
	default:
		o.logger.Warn("error report dropped", "error", err)
	}
}
