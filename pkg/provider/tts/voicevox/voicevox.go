// Package voicevox provides a tts.Synthesizer backed by a local VOICEVOX
// engine (https://voicevox.hiroshiba.jp/), which exposes a REST API.
//
// Synthesis is a two-step protocol: POST /audio_query produces a prosody
// plan (accent phrases with per-mora phoneme durations), which is then
// adjusted for speed/pitch and POSTed to /synthesis to render WAV audio.
// The mora durations from the query double as the mouth-shape timeline, so
// lip sync comes for free with every synthesis call.
//
// Usage:
//
//	p, err := voicevox.New("http://localhost:50021")
//	out, err := p.Synthesize(ctx, "こんにちは", tts.VoiceProfile{SpeakerID: 54})
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
)

const (
	defaultSpeakerID       = 54
	defaultSpeedScale      = 1.0
	defaultIntonationScale = 0.9
)

// Compile-time assertion that Provider implements tts.Synthesizer.
var _ tts.Synthesizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client (15 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithDefaultVoice sets the voice used when Synthesize receives a zero-value
// VoiceProfile.
func WithDefaultVoice(v tts.VoiceProfile) Option {
	return func(p *Provider) { p.defaultVoice = v }
}

// Provider implements tts.Synthesizer against a VOICEVOX engine instance.
// Concurrent Synthesize calls are safe; the engine handles its own queueing.
type Provider struct {
	baseURL      string
	httpClient   *http.Client
	defaultVoice tts.VoiceProfile
}

// New creates a Provider that connects to the VOICEVOX engine at baseURL
// (e.g., "http://localhost:50021"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("voicevox: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		defaultVoice: tts.VoiceProfile{
			SpeakerID:       defaultSpeakerID,
			SpeedScale:      defaultSpeedScale,
			IntonationScale: defaultIntonationScale,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ─── Engine wire types ───

// audioQuery is the prosody plan returned by /audio_query. Only the fields
// we read or adjust are declared; encode merges them back into the raw plan
// so fields this client does not know about survive the round trip.
type audioQuery struct {
	AccentPhrases      []accentPhrase `json:"accent_phrases"`
	SpeedScale         float64        `json:"speedScale"`
	PitchScale         float64        `json:"pitchScale"`
	IntonationScale    float64        `json:"intonationScale"`
	VolumeScale        float64        `json:"volumeScale"`
	PrePhonemeLength   float64        `json:"prePhonemeLength"`
	PostPhonemeLength  float64        `json:"postPhonemeLength"`
	OutputSamplingRate int            `json:"outputSamplingRate"`
	OutputStereo       bool           `json:"outputStereo"`
	Kana               string         `json:"kana,omitempty"`

	// raw is the engine's original response body.
	raw json.RawMessage
}

// encode serializes the query for /synthesis: the declared fields overlay
// the raw plan, everything else passes through untouched.
func (q *audioQuery) encode() ([]byte, error) {
	declared, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	if len(q.raw) == 0 {
		return declared, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(q.raw, &merged); err != nil {
		return nil, err
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(declared, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return json.Marshal(merged)
}

type accentPhrase struct {
	Moras           []mora `json:"moras"`
	Accent          int    `json:"accent"`
	PauseMora       *mora  `json:"pause_mora"`
	IsInterrogative bool   `json:"is_interrogative,omitempty"`
}

type mora struct {
	Text            string  `json:"text"`
	Consonant       string  `json:"consonant,omitempty"`
	ConsonantLength float64 `json:"consonant_length,omitempty"`
	Vowel           string  `json:"vowel"`
	VowelLength     float64 `json:"vowel_length"`
	Pitch           float64 `json:"pitch"`
}

// Synthesize renders text via audio_query + synthesis and derives the
// mouth-shape timeline from the query's mora durations.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.SynthesizedAudio, error) {
	if text == "" {
		return tts.SynthesizedAudio{}, nil
	}
	voice = p.fillVoice(voice)

	query, err := p.audioQuery(ctx, text, voice.SpeakerID)
	if err != nil {
		return tts.SynthesizedAudio{}, err
	}

	query.SpeedScale = voice.SpeedScale
	query.PitchScale = voice.PitchScale
	query.IntonationScale = voice.IntonationScale

	pcm, sampleRate, err := p.synthesis(ctx, query, voice.SpeakerID)
	if err != nil {
		return tts.SynthesizedAudio{}, err
	}

	return tts.SynthesizedAudio{
		PCM:        pcm,
		SampleRate: sampleRate,
		Mouth:      mouthTimeline(query),
	}, nil
}

func (p *Provider) fillVoice(v tts.VoiceProfile) tts.VoiceProfile {
	if v.SpeakerID == 0 {
		v.SpeakerID = p.defaultVoice.SpeakerID
	}
	if v.SpeedScale == 0 {
		v.SpeedScale = p.defaultVoice.SpeedScale
	}
	if v.IntonationScale == 0 {
		v.IntonationScale = p.defaultVoice.IntonationScale
	}
	return v
}

// audioQuery calls POST /audio_query.
func (p *Provider) audioQuery(ctx context.Context, text string, speakerID int) (*audioQuery, error) {
	endpoint := fmt.Sprintf("%s/audio_query?text=%s&speaker=%d",
		p.baseURL, url.QueryEscape(text), speakerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("voicevox: create audio_query request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox: audio_query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voicevox: audio_query returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicevox: read audio_query response: %w", err)
	}
	var query audioQuery
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, fmt.Errorf("voicevox: parse audio_query response: %w", err)
	}
	query.raw = body
	return &query, nil
}

// synthesis calls POST /synthesis and decodes the returned WAV.
func (p *Provider) synthesis(ctx context.Context, query *audioQuery, speakerID int) ([]byte, int, error) {
	body, err := query.encode()
	if err != nil {
		return nil, 0, fmt.Errorf("voicevox: encode audio query: %w", err)
	}

	endpoint := p.baseURL + "/synthesis?speaker=" + strconv.Itoa(speakerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("voicevox: create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("voicevox: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("voicevox: synthesis returned HTTP %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("voicevox: read synthesis response: %w", err)
	}

	pcm, sampleRate, err := decodeWAV(wav)
	if err != nil {
		return nil, 0, fmt.Errorf("voicevox: decode wav: %w", err)
	}
	return pcm, sampleRate, nil
}

// ─── Mouth timeline ───

// phonemeShapes maps VOICEVOX phonemes to mouth shapes. Consonants borrow
// the shape of the vowel the lips are preparing for; silence phonemes and
// the glottal stop close the mouth.
var phonemeShapes = map[string]tts.MouthShape{
	"a": tts.MouthA, "i": tts.MouthI, "u": tts.MouthO, "e": tts.MouthA, "o": tts.MouthO,
	"k": tts.MouthA, "g": tts.MouthA, "s": tts.MouthI, "z": tts.MouthI,
	"t": tts.MouthA, "d": tts.MouthA, "n": tts.MouthO, "h": tts.MouthO,
	"b": tts.MouthO, "p": tts.MouthO, "m": tts.MouthO, "y": tts.MouthA,
	"r": tts.MouthA, "w": tts.MouthO, "f": tts.MouthO, "v": tts.MouthO,
	"ch": tts.MouthI, "sh": tts.MouthI, "j": tts.MouthI, "ts": tts.MouthA,
	"N": tts.MouthO,
	"sil": tts.MouthClosed, "pau": tts.MouthClosed, "cl": tts.MouthClosed, "q": tts.MouthClosed,
}

func phonemeShape(phoneme string) tts.MouthShape {
	if shape, ok := phonemeShapes[phoneme]; ok {
		return shape
	}
	return tts.MouthA
}

// mouthTimeline derives the mouth-shape schedule from the query's mora
// durations. Durations in the plan are pre-speed values; the engine divides
// them by SpeedScale when rendering, so the timeline does the same to stay
// aligned with the audio. The final event returns the mouth to closed.
func mouthTimeline(query *audioQuery) []tts.MouthEvent {
	speed := query.SpeedScale
	if speed <= 0 {
		speed = 1
	}
	scale := func(sec float64) time.Duration {
		return time.Duration(sec / speed * float64(time.Second))
	}

	var (
		events []tts.MouthEvent
		offset = scale(query.PrePhonemeLength)
	)
	appendEvent := func(shape tts.MouthShape, d time.Duration) {
		if d <= 0 {
			return
		}
		if n := len(events); n > 0 && events[n-1].Shape == shape {
			// Merged with the previous hold; no new event needed.
			offset += d
			return
		}
		events = append(events, tts.MouthEvent{Offset: offset, Shape: shape})
		offset += d
	}

	for _, phrase := range query.AccentPhrases {
		for _, m := range phrase.Moras {
			if m.Consonant != "" {
				appendEvent(phonemeShape(m.Consonant), scale(m.ConsonantLength))
			}
			if m.Vowel != "" {
				appendEvent(phonemeShape(m.Vowel), scale(m.VowelLength))
			}
		}
		if phrase.PauseMora != nil && phrase.PauseMora.VowelLength > 0 {
			appendEvent(tts.MouthClosed, scale(phrase.PauseMora.VowelLength))
		}
	}

	if len(events) > 0 && events[len(events)-1].Shape != tts.MouthClosed {
		events = append(events, tts.MouthEvent{Offset: offset, Shape: tts.MouthClosed})
	}
	return events
}
