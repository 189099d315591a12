// Package playback orders synthesized audio chunks, feeds them to the output
// device, and schedules mouth-shape events against the playback clock.
//
// Chunks of one reply are synthesized concurrently and may arrive out of
// order; the coordinator holds them until their index is next and plays them
// strictly in order. Mouth events ride along with each chunk as offsets from
// its start; they are rebased onto the device's playback position so lip
// movement tracks the audio actually heard, not the audio submitted. All
// scheduling happens on a fixed tick (10 ms by default), which bounds mouth
// timing error to one tick.
//
// A barge-in calls Flush: playback stops immediately, every queued chunk is
// dropped regardless of epoch, and the mouth is forced closed.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/audio"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
)

const (
	// defaultTickInterval is the scheduling quantum.
	defaultTickInterval = 10 * time.Millisecond

	// defaultComfortBuffer is how much audio should stay queued ahead of the
	// playback position while more chunks are expected. When the buffer runs
	// lower and the next chunk has not arrived, silence is inserted so the
	// device never starves mid-reply.
	defaultComfortBuffer = 200 * time.Millisecond
)

// MouthSink receives mouth-shape changes. Implementations must be fast; the
// coordinator calls them on its scheduling goroutine.
type MouthSink interface {
	SetMouth(ctx context.Context, shape tts.MouthShape) error
}

// Chunk is one synthesized piece of a reply, ready for playback.
type Chunk struct {
	// Epoch tags the reply. Chunks from a stale epoch are dropped.
	Epoch int64

	// Index orders chunks within the reply, starting at 0.
	Index int

	// Audio is the synthesized PCM with its mouth timeline. May be empty on
	// a bare final marker.
	Audio tts.SynthesizedAudio

	// Final marks the last chunk of the reply.
	Final bool
}

// Config holds coordinator construction parameters.
type Config struct {
	Player audio.Player

	// Mouth may be nil to disable lip sync.
	Mouth MouthSink

	// TickInterval is the scheduling quantum. Zero selects the default.
	// Ignored when Tick is set.
	TickInterval time.Duration

	// Tick, when non-nil, replaces the internal ticker; tests drive the
	// scheduler deterministically through it.
	Tick <-chan time.Time

	// ComfortBuffer is the low-water mark for inserted silence. Zero selects
	// the default.
	ComfortBuffer time.Duration

	Logger *slog.Logger
}

// Coordinator serializes chunk playback for one player. Enqueue and Flush
// are safe to call from any goroutine; Run owns the schedule.
type Coordinator struct {
	player  audio.Player
	mouth   MouthSink
	tick    <-chan time.Time
	ticker  *time.Ticker
	comfort time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	epoch     int64
	pending   map[int]Chunk
	nextIndex int
	finalSeen bool
	// origin is the player position when the current reply began; queued is
	// the total duration submitted since then (comfort silence included).
	origin time.Duration
	queued time.Duration
	// schedule holds mouth events rebased to reply-relative time.
	schedule []tts.MouthEvent
	speaking bool

	completed chan int64
	errs      chan error
}

// New creates a coordinator. Call Run to start scheduling.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Player == nil {
		return nil, fmt.Errorf("playback: player must not be nil")
	}
	if cfg.ComfortBuffer <= 0 {
		cfg.ComfortBuffer = defaultComfortBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Coordinator{
		player:    cfg.Player,
		mouth:     cfg.Mouth,
		comfort:   cfg.ComfortBuffer,
		logger:    cfg.Logger,
		pending:   make(map[int]Chunk),
		completed: make(chan int64, 4),
		errs:      make(chan error, 4),
	}
	if cfg.Tick != nil {
		c.tick = cfg.Tick
	} else {
		interval := cfg.TickInterval
		if interval <= 0 {
			interval = defaultTickInterval
		}
		c.ticker = time.NewTicker(interval)
		c.tick = c.ticker.C
	}
	return c, nil
}

// Completed emits the epoch of each reply whose final chunk finished
// playing. The orchestrator uses it to leave the speaking state.
func (c *Coordinator) Completed() <-chan int64 { return c.completed }

// Errors emits device failures (underruns, write errors). The channel is
// buffered; the coordinator drops reports rather than block.
func (c *Coordinator) Errors() <-chan error { return c.errs }

// Activate prepares the coordinator for a new reply. Chunks from any other
// epoch are dropped by Enqueue. Activating while a previous reply is still
// playing flushes it first.
func (c *Coordinator) Activate(epoch int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speaking {
		c.flushLocked()
	}
	c.epoch = epoch
	c.speaking = true
	c.origin = c.player.Position()
}

// Enqueue hands one synthesized chunk to the scheduler. Stale-epoch chunks
// are dropped silently; that is the normal fate of in-flight synthesis after
// a barge-in.
func (c *Coordinator) Enqueue(chunk Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.speaking || chunk.Epoch != c.epoch {
		c.logger.Debug("dropping stale chunk", "epoch", chunk.Epoch, "index", chunk.Index)
		return
	}
	c.pending[chunk.Index] = chunk
}

// Flush unconditionally stops playback, drops all queued chunks, and forces
// the mouth closed. Safe to call at any time, including when idle.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()

	if c.mouth != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.mouth.SetMouth(ctx, tts.MouthClosed); err != nil {
			c.logger.Warn("mouth close on flush failed", "error", err)
		}
	}
}

func (c *Coordinator) flushLocked() {
	if err := c.player.Stop(); err != nil {
		c.report(fmt.Errorf("playback: stop: %w", err))
	}
	c.pending = make(map[int]Chunk)
	c.schedule = nil
	c.nextIndex = 0
	c.finalSeen = false
	c.queued = 0
	c.speaking = false
}

// Run executes the scheduling loop until ctx is cancelled. It flushes on the
// way out so the device is silent after shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	defer func() {
		if c.ticker != nil {
			c.ticker.Stop()
		}
		c.Flush()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.tick:
			c.step(ctx)
		}
	}
}

// step performs one scheduling quantum: submit ready chunks, keep the device
// fed, move the mouth, and detect completion.
func (c *Coordinator) step(ctx context.Context) {
	c.mu.Lock()

	if !c.speaking {
		c.mu.Unlock()
		return
	}

	c.submitReadyLocked()

	played := c.player.Position() - c.origin

	// Starvation guard: more chunks are coming but the next one is late.
	if !c.finalSeen && len(c.pending) == 0 && c.queued-played < c.comfort {
		c.insertSilenceLocked()
	}

	shape, fire := c.popMouthLocked(played)

	done := c.finalSeen && c.nextIndex > c.maxPendingLocked() && played >= c.queued
	var epoch int64
	if done {
		epoch = c.epoch
		c.speaking = false
		c.pending = make(map[int]Chunk)
		c.schedule = nil
		c.nextIndex = 0
		c.finalSeen = false
		c.queued = 0
	}
	c.mu.Unlock()

	if fire && c.mouth != nil {
		if err := c.mouth.SetMouth(ctx, shape); err != nil {
			c.logger.Warn("mouth update failed", "shape", shape, "error", err)
		}
	}
	if done {
		if c.mouth != nil {
			if err := c.mouth.SetMouth(ctx, tts.MouthClosed); err != nil {
				c.logger.Warn("mouth close failed", "error", err)
			}
		}
		select {
		case c.completed <- epoch:
		default:
			c.logger.Warn("completion signal dropped", "epoch", epoch)
		}
	}
}

// submitReadyLocked plays every pending chunk whose index is next, in order,
// rebasing its mouth events onto the reply clock.
func (c *Coordinator) submitReadyLocked() {
	for {
		chunk, ok := c.pending[c.nextIndex]
		if !ok {
			break
		}
		delete(c.pending, c.nextIndex)
		c.nextIndex++
		if chunk.Final {
			c.finalSeen = true
		}
		if len(chunk.Audio.PCM) == 0 {
			continue
		}

		pcm := chunk.Audio.PCM
		if chunk.Audio.SampleRate != c.player.SampleRate() {
			pcm = audio.ResampleMono16(pcm, chunk.Audio.SampleRate, c.player.SampleRate())
		}
		if err := c.player.Play(pcm); err != nil {
			c.report(fmt.Errorf("playback: play chunk %d: %w", chunk.Index, err))
			continue
		}

		base := c.queued
		for _, ev := range chunk.Audio.Mouth {
			c.schedule = append(c.schedule, tts.MouthEvent{
				Offset: base + ev.Offset,
				Shape:  ev.Shape,
			})
		}
		sort.SliceStable(c.schedule, func(i, j int) bool {
			return c.schedule[i].Offset < c.schedule[j].Offset
		})
		c.queued += chunk.Audio.Duration()
	}
}

// insertSilenceLocked queues one tick's worth of comfort silence. Silence
// carries no mouth events, so the mouth stays wherever the last event put it.
func (c *Coordinator) insertSilenceLocked() {
	gap := c.comfort / 2
	pcm := audio.Silence(gap, c.player.SampleRate())
	if len(pcm) == 0 {
		return
	}
	if err := c.player.Play(pcm); err != nil {
		c.report(fmt.Errorf("playback: comfort silence: %w", err))
		return
	}
	c.queued += gap
}

// popMouthLocked consumes every mouth event due at or before played and
// returns the last one. Collapsing to the latest shape keeps the mouth
// correct even when several events land inside one tick.
func (c *Coordinator) popMouthLocked(played time.Duration) (tts.MouthShape, bool) {
	var (
		shape tts.MouthShape
		fire  bool
	)
	for len(c.schedule) > 0 && c.schedule[0].Offset <= played {
		shape = c.schedule[0].Shape
		fire = true
		c.schedule = c.schedule[1:]
	}
	return shape, fire
}

// maxPendingLocked returns the highest buffered index, or -1 when empty.
func (c *Coordinator) maxPendingLocked() int {
	max := -1
	for idx := range c.pending {
		if idx > max {
			max = idx
		}
	}
	return max
}

func (c *Coordinator) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("error report dropped", "error", err)
	}
}
