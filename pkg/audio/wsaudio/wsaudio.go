// Package wsaudio implements an [audio.Platform] over a websocket
// connection. A remote client streams Opus-encoded microphone frames to the
// server as binary messages, and receives Opus-encoded synthesized speech
// the same way. Text messages carry JSON control commands (currently only
// "stop", which tells the client to discard its playback buffer).
package wsaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/hibiki-voice/hibiki/pkg/audio"
)

const (
	defaultCaptureRate  = 16000
	defaultPlaybackRate = 24000
	frameDuration       = 20 * time.Millisecond
	maxOpusFrameBytes   = 4000
)

// Option configures a Platform.
type Option func(*Platform)

// WithCaptureRate sets the sample rate of incoming microphone audio.
func WithCaptureRate(hz int) Option {
	return func(p *Platform) { p.captureRate = hz }
}

// WithPlaybackRate sets the sample rate of outgoing synthesized audio.
func WithPlaybackRate(hz int) Option {
	return func(p *Platform) { p.playbackRate = hz }
}

// Platform adapts one accepted websocket connection to the audio platform
// contract. One Platform serves exactly one client session.
type Platform struct {
	conn         *websocket.Conn
	captureRate  int
	playbackRate int
}

var _ audio.Platform = (*Platform)(nil)

// New wraps an already-accepted websocket connection.
func New(conn *websocket.Conn, opts ...Option) *Platform {
	p := &Platform{
		conn:         conn,
		captureRate:  defaultCaptureRate,
		playbackRate: defaultPlaybackRate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open starts the read loop and returns the capture and playback halves.
// The session ends when the capture half is closed or the peer disconnects.
func (p *Platform) Open(ctx context.Context) (audio.Capture, audio.Player, error) {
	dec, err := gopus.NewDecoder(p.captureRate, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("wsaudio: create opus decoder: %w", err)
	}
	enc, err := gopus.NewEncoder(p.playbackRate, 1, gopus.Audio)
	if err != nil {
		return nil, nil, fmt.Errorf("wsaudio: create opus encoder: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cap := &capture{
		conn:       p.conn,
		dec:        dec,
		sampleRate: p.captureRate,
		frames:     make(chan audio.AudioFrame, 64),
		cancel:     cancel,
	}
	go cap.readLoop(readCtx)

	player := &player{
		conn:       p.conn,
		enc:        enc,
		sampleRate: p.playbackRate,
	}
	return cap, player, nil
}

// ─── Capture ───

type capture struct {
	conn       *websocket.Conn
	dec        *gopus.Decoder
	sampleRate int
	frames     chan audio.AudioFrame
	cancel     context.CancelFunc

	closeOnce sync.Once
}

var _ audio.Capture = (*capture)(nil)

func (c *capture) readLoop(ctx context.Context) {
	defer close(c.frames)
	frameSamples := int(frameDuration.Seconds() * float64(c.sampleRate))
	var elapsed time.Duration
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			// Control traffic from the client is ignored on this path.
			continue
		}
		pcm, err := c.dec.Decode(data, frameSamples, false)
		if err != nil {
			// A corrupt frame is dropped rather than ending the session.
			continue
		}
		frame := audio.AudioFrame{
			Data:       audio.Int16sToBytes(pcm),
			SampleRate: c.sampleRate,
			Channels:   1,
			Timestamp:  elapsed,
		}
		elapsed += frame.Duration()
		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (c *capture) Frames() <-chan audio.AudioFrame { return c.frames }

func (c *capture) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// ─── Player ───

type control struct {
	Type string `json:"type"`
}

// player encodes queued PCM into 20 ms Opus frames and sends them to the
// client. The playback position is modeled from wall time: the client renders
// frames as fast as it receives them, so the server-side estimate of "audio
// heard so far" is elapsed time since playback began, capped by the total
// audio queued.
type player struct {
	conn       *websocket.Conn
	enc        *gopus.Encoder
	sampleRate int

	mu      sync.Mutex
	queued  time.Duration // total audio sent since last Stop
	base    time.Duration // position frozen by the last Stop
	started time.Time     // zero when nothing has been sent since Stop
	pending []int16       // residue shorter than one opus frame
}

var _ audio.Player = (*player)(nil)

func (p *player) Play(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := append(p.pending, audio.BytesToInt16s(pcm)...)
	frameSamples := int(frameDuration.Seconds() * float64(p.sampleRate))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for len(samples) >= frameSamples {
		packet, err := p.enc.Encode(samples[:frameSamples], frameSamples, maxOpusFrameBytes)
		if err != nil {
			return fmt.Errorf("wsaudio: encode opus frame: %w", err)
		}
		if err := p.conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
			return fmt.Errorf("wsaudio: send audio: %w", err)
		}
		samples = samples[frameSamples:]
		p.queued += frameDuration
	}
	p.pending = samples
	if p.started.IsZero() && p.queued > 0 {
		p.started = time.Now()
	}
	return nil
}

func (p *player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base + p.playedLocked()
}

func (p *player) playedLocked() time.Duration {
	if p.started.IsZero() {
		return 0
	}
	elapsed := time.Since(p.started)
	if elapsed > p.queued {
		return p.queued
	}
	return elapsed
}

func (p *player) Stop() error {
	p.mu.Lock()
	p.base += p.playedLocked()
	p.queued = 0
	p.started = time.Time{}
	p.pending = nil
	p.mu.Unlock()

	msg, _ := json.Marshal(control{Type: "stop"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("wsaudio: send stop: %w", err)
	}
	return nil
}

func (p *player) SampleRate() int { return p.sampleRate }
