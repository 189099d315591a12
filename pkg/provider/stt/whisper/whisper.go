// Package whisper provides whisper.cpp-backed STT recognizers.
//
// Two implementations are available:
//
//   - Provider connects to a running whisper-server binary (which exposes a
//     REST API at POST /inference) and submits each utterance as a batch
//     inference request.
//   - NativeProvider (native.go) links whisper.cpp directly via its CGO
//     bindings, eliminating HTTP overhead. The model is loaded once at
//     startup and shared across all inferences.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	transcript, err := p.Recognize(ctx, stt.Request{PCM: pcm, SampleRate: 16000, Channels: 1})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Compile-time assertion that Provider implements stt.Recognizer.
var _ stt.Recognizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "ja"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Recognizer backed by a whisper.cpp HTTP server.
// Concurrent Recognize calls are safe; the server serializes inference
// internally.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize encodes the utterance as WAV and POSTs it to the whisper.cpp
// /inference endpoint as multipart/form-data.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.PCM) == 0 {
		return stt.Transcript{}, nil
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := req.Channels
	if ch <= 0 {
		ch = 1
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	wav := encodeWAV(req.PCM, sr, ch)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return stt.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: lang,
	}, nil
}
