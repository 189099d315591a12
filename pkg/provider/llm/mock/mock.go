// Package mock provides test doubles for the llm package interfaces.
//
// Use Provider to script streamed chunks and inspect the requests that were
// submitted for completion.
package mock

import (
	"context"
	"sync"

	"github.com/hibiki-voice/hibiki/pkg/provider/llm"
)

// StreamCompletionCall records a single invocation of Provider.StreamCompletion.
type StreamCompletionCall struct {
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Provider.Complete.
type CompleteCall struct {
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence emitted by every StreamCompletion call when
	// Script is empty.
	Chunks []llm.Chunk

	// Script, when non-empty, is consumed one entry (a full chunk sequence)
	// per StreamCompletion call. Once exhausted, calls fall back to Chunks.
	Script [][]llm.Chunk

	// StreamErr, if non-nil, is returned by StreamCompletion before any
	// chunks are emitted.
	StreamErr error

	// Release, if non-nil, gates chunk emission: the stream goroutine waits
	// for a receive per chunk, letting tests control pacing. Cancellation of
	// ctx still closes the stream promptly.
	Release <-chan struct{}

	// CompleteResponse is returned by every Complete call.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by every Complete call.
	CompleteErr error

	// StreamCompletionCalls records every call to StreamCompletion in order.
	StreamCompletionCalls []StreamCompletionCall

	// CompleteCalls records every call to Complete in order.
	CompleteCalls []CompleteCall
}

// StreamCompletion records the call and emits the next scripted chunk
// sequence on the returned channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCompletionCalls = append(p.StreamCompletionCalls, StreamCompletionCall{Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := p.Chunks
	if len(p.Script) > 0 {
		chunks = p.Script[0]
		p.Script = p.Script[1:]
	}
	release := p.Release
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if release != nil {
				select {
				case <-release:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	return &llm.CompletionResponse{}, nil
}

// StreamCalls returns how many StreamCompletion invocations were recorded.
// Thread-safe.
func (p *Provider) StreamCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCompletionCalls)
}

// StreamRequests returns a copy of every recorded StreamCompletion request,
// in call order. Thread-safe.
func (p *Provider) StreamRequests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.StreamCompletionCalls))
	for i, call := range p.StreamCompletionCalls {
		out[i] = call.Req
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCompletionCalls = nil
	p.CompleteCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
