// Package mock provides scripted audio platform implementations for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/audio"
)

// Capture is a test double for [audio.Capture] fed by the test itself.
type Capture struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed bool
}

var _ audio.Capture = (*Capture)(nil)

// NewCapture creates a capture whose frame channel holds up to buffer frames.
func NewCapture(buffer int) *Capture {
	return &Capture{frames: make(chan audio.AudioFrame, buffer)}
}

// Push queues a frame for the consumer. Returns false after Close.
func (c *Capture) Push(frame audio.AudioFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames <- frame
	return true
}

// PushPCM is a convenience wrapper building a frame from raw samples.
func (c *Capture) PushPCM(pcm []byte, sampleRate int, ts time.Duration) bool {
	return c.Push(audio.AudioFrame{
		Data:       pcm,
		SampleRate: sampleRate,
		Channels:   1,
		Timestamp:  ts,
	})
}

func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

// Player records every buffer it receives and exposes a manually advanced
// playback clock, so tests can drive mouth-event scheduling deterministically.
type Player struct {
	mu         sync.Mutex
	played     [][]byte
	position   time.Duration
	stops      int
	sampleRate int

	// PlayErr, when set, is returned by the next Play call.
	PlayErr error
}

var _ audio.Player = (*Player)(nil)

// NewPlayer creates a player reporting the given output sample rate.
func NewPlayer(sampleRate int) *Player {
	return &Player{sampleRate: sampleRate}
}

func (p *Player) Play(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayErr != nil {
		err := p.PlayErr
		p.PlayErr = nil
		return err
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.played = append(p.played, buf)
	return nil
}

func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *Player) SampleRate() int { return p.sampleRate }

// Advance moves the playback clock forward by d.
func (p *Player) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position += d
}

// Played returns a copy of all buffers submitted so far.
func (p *Player) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}

// PlayedBytes returns the total byte count submitted so far.
func (p *Player) PlayedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, b := range p.played {
		n += len(b)
	}
	return n
}

// Stops returns how many times Stop was called.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// Platform bundles a mock capture and player behind [audio.Platform].
type Platform struct {
	Capture *Capture
	Player  *Player
	OpenErr error
}

var _ audio.Platform = (*Platform)(nil)

// NewPlatform creates a platform with a 64-frame capture buffer and a
// 24 kHz player.
func NewPlatform() *Platform {
	return &Platform{
		Capture: NewCapture(64),
		Player:  NewPlayer(24000),
	}
}

func (p *Platform) Open(_ context.Context) (audio.Capture, audio.Player, error) {
	if p.OpenErr != nil {
		return nil, nil, p.OpenErr
	}
	return p.Capture, p.Player, nil
}
