// Package wakeword gates the idle pipeline behind a spoken activation
// phrase.
//
// Recognized text is matched against the configured phrase and its variant
// spellings by substring first, then fuzzily with Jaro-Winkler similarity so
// recognition slips ("serious" for "sirius") still activate. Low-confidence
// transcripts are rejected outright, and a cooldown suppresses re-triggering
// on the echo of an activation.
package wakeword

import (
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
)

const (
	// defaultConfidenceThreshold rejects transcripts the recognizer itself
	// distrusts. Transcripts reporting no confidence (0) pass the check.
	defaultConfidenceThreshold = 0.6

	// defaultCooldown suppresses repeat detections.
	defaultCooldown = 2 * time.Second

	// defaultSimilarity is the Jaro-Winkler score at or above which a word
	// window counts as the phrase.
	defaultSimilarity = 0.84
)

// Config holds gate tuning. Zero values select the defaults above.
type Config struct {
	// Phrase is the activation phrase (e.g., "hey hibiki"). Required.
	Phrase string

	// Variants are alternative spellings and honorific forms matched by
	// substring in addition to Phrase.
	Variants []string

	ConfidenceThreshold float64
	Cooldown            time.Duration
	Similarity          float64

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Gate decides whether a transcript activates the assistant. Safe for
// concurrent use.
type Gate struct {
	phrase     string
	variants   []string
	confidence float64
	cooldown   time.Duration
	similarity float64
	now        func() time.Time

	mu            sync.Mutex
	lastDetection time.Time
}

// New creates a gate. An empty phrase yields a gate that never matches.
func New(cfg Config) *Gate {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = defaultSimilarity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	variants := make([]string, 0, len(cfg.Variants))
	for _, v := range cfg.Variants {
		variants = append(variants, strings.ToLower(v))
	}
	return &Gate{
		phrase:     strings.ToLower(strings.TrimSpace(cfg.Phrase)),
		variants:   variants,
		confidence: cfg.ConfidenceThreshold,
		cooldown:   cfg.Cooldown,
		similarity: cfg.Similarity,
		now:        cfg.Now,
	}
}

// Detect reports whether the transcript contains the activation phrase and
// the gate is outside its cooldown window. A positive detection starts the
// cooldown.
func (g *Gate) Detect(transcript stt.Transcript) bool {
	if g.phrase == "" {
		return false
	}
	if transcript.Confidence > 0 && transcript.Confidence < g.confidence {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(transcript.Text))
	if text == "" {
		return false
	}

	if !g.matches(text) {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.lastDetection.IsZero() && now.Sub(g.lastDetection) < g.cooldown {
		return false
	}
	g.lastDetection = now
	return true
}

func (g *Gate) matches(text string) bool {
	if strings.Contains(text, g.phrase) {
		return true
	}
	for _, v := range g.variants {
		if strings.Contains(text, v) {
			return true
		}
	}

	// Fuzzy pass: slide a window of as many words as the phrase has across
	// the transcript and score each window.
	phraseWords := strings.Fields(g.phrase)
	textWords := strings.Fields(stripPunct(text))
	if len(phraseWords) == 0 || len(textWords) < len(phraseWords) {
		return false
	}
	for i := 0; i+len(phraseWords) <= len(textWords); i++ {
		window := strings.Join(textWords[i:i+len(phraseWords)], " ")
		if matchr.JaroWinkler(window, g.phrase, false) >= g.similarity {
			return true
		}
	}
	return false
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '!', '?', ';', ':', '、', '。', '！', '？':
			return ' '
		}
		return r
	}, s)
}
