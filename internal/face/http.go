package face

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hibiki-voice/hibiki/internal/playback"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
)

// mouthPatternRequest is the face server's wire format. The closed shape is
// encoded as JSON null, matching the server's "no pattern" convention.
type mouthPatternRequest struct {
	MouthPattern *string `json:"mouth_pattern"`
}

// HTTPSink delivers mouth shapes to a face server via
// POST {baseURL}/mouth_pattern. Delivery is asynchronous through a
// latest-value mailbox; SetMouth never blocks on the network.
type HTTPSink struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	box       *mailbox
	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

var _ playback.MouthSink = (*HTTPSink)(nil)

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHTTPClient replaces the default client (500 ms timeout; mouth updates
// are worthless once late).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSink) { s.httpClient = c }
}

// WithLogger sets the sink's logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(s *HTTPSink) { s.logger = l }
}

// NewHTTPSink creates a sink posting to the face server at baseURL (e.g.,
// "http://localhost:8080") and starts its delivery goroutine. Call Close to
// stop it.
func NewHTTPSink(baseURL string, opts ...HTTPOption) (*HTTPSink, error) {
	if baseURL == "" {
		return nil, errors.New("face: baseURL must not be empty")
	}
	s := &HTTPSink{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 500 * time.Millisecond},
		logger:     slog.Default(),
		box:        newMailbox(),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.deliverLoop()
	return s, nil
}

// SetMouth queues the shape for delivery, replacing any undelivered one.
func (s *HTTPSink) SetMouth(_ context.Context, shape tts.MouthShape) error {
	select {
	case <-s.done:
		return errors.New("face: sink closed")
	default:
	}
	s.box.post(shape)
	return nil
}

// Close stops the delivery goroutine after a best-effort final "closed"
// post, so the avatar is not left mid-vowel.
func (s *HTTPSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
		if err := s.post(tts.MouthClosed); err != nil {
			s.logger.Debug("final mouth close failed", "error", err)
		}
	})
	return nil
}

func (s *HTTPSink) deliverLoop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case shape := <-s.box.ch:
			if err := s.post(shape); err != nil {
				s.logger.Debug("mouth pattern post failed", "shape", shape, "error", err)
			}
		}
	}
}

func (s *HTTPSink) post(shape tts.MouthShape) error {
	var req mouthPatternRequest
	if shape != tts.MouthClosed {
		name := shape.String()
		req.MouthPattern = &name
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("face: encode mouth pattern: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, s.baseURL+"/mouth_pattern", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("face: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("face: post mouth pattern: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("face: server returned HTTP %d", resp.StatusCode)
	}
	return nil
}
