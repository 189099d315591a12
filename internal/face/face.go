// Package face delivers mouth-shape changes to an avatar renderer.
//
// Two transports are provided: an HTTP sink that POSTs to a face server's
// /mouth_pattern endpoint, and a websocket broadcaster that pushes shape
// updates to any number of connected overlay clients. Both decouple delivery
// from the playback scheduler with a latest-value mailbox: only the newest
// shape matters for a mouth, so a slow renderer drops intermediate shapes
// instead of stalling the 10 ms scheduling tick.
package face

import (
	"context"

	"github.com/hibiki-voice/hibiki/internal/playback"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
)

// Null is a MouthSink that discards all updates. Used when no renderer is
// configured.
type Null struct{}

var _ playback.MouthSink = Null{}

func (Null) SetMouth(context.Context, tts.MouthShape) error { return nil }

// mailbox is a size-one latest-value buffer. Post replaces any undelivered
// shape; the delivery goroutine always works on the newest value.
type mailbox struct {
	ch chan tts.MouthShape
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan tts.MouthShape, 1)}
}

func (m *mailbox) post(shape tts.MouthShape) {
	for {
		select {
		case m.ch <- shape:
			return
		default:
			// Evict the stale value and retry.
			select {
			case <-m.ch:
			default:
			}
		}
	}
}
