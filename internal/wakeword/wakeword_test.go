package wakeword

import (
	"testing"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/provider/stt"
)

func gateAt(t *testing.T, cfg Config, at *time.Time) *Gate {
	t.Helper()
	cfg.Now = func() time.Time { return *at }
	return New(cfg)
}

func TestGate_ExactAndVariantMatch(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	g := gateAt(t, Config{
		Phrase:   "hey hibiki",
		Variants: []string{"ヒビキくん", "hibiki-kun"},
	}, &now)

	cases := []struct {
		text string
		want bool
	}{
		{"hey hibiki, what's the weather", true},
		{"HEY HIBIKI", true},
		{"ねえヒビキくん、今日の天気は", true},
		{"completely unrelated sentence", false},
		{"", false},
	}
	for _, tc := range cases {
		now = now.Add(time.Minute) // clear cooldown between cases
		if got := g.Detect(stt.Transcript{Text: tc.text}); got != tc.want {
			t.Errorf("Detect(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestGate_FuzzyMatch(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	g := gateAt(t, Config{Phrase: "hey hibiki"}, &now)

	// Recognition slips that should still activate.
	for _, text := range []string{"hey hibiky please", "hay hibiki"} {
		now = now.Add(time.Minute)
		if !g.Detect(stt.Transcript{Text: text}) {
			t.Errorf("Detect(%q) = false, want fuzzy match", text)
		}
	}
}

func TestGate_ConfidenceThreshold(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	g := gateAt(t, Config{Phrase: "hey hibiki"}, &now)

	if g.Detect(stt.Transcript{Text: "hey hibiki", Confidence: 0.3}) {
		t.Error("low-confidence transcript activated the gate")
	}
	// Zero confidence means "unreported" and must pass.
	now = now.Add(time.Minute)
	if !g.Detect(stt.Transcript{Text: "hey hibiki", Confidence: 0}) {
		t.Error("unreported confidence was rejected")
	}
	now = now.Add(time.Minute)
	if !g.Detect(stt.Transcript{Text: "hey hibiki", Confidence: 0.9}) {
		t.Error("high-confidence transcript was rejected")
	}
}

func TestGate_Cooldown(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	g := gateAt(t, Config{Phrase: "hey hibiki", Cooldown: 2 * time.Second}, &now)

	if !g.Detect(stt.Transcript{Text: "hey hibiki"}) {
		t.Fatal("first detection failed")
	}
	now = now.Add(time.Second)
	if g.Detect(stt.Transcript{Text: "hey hibiki"}) {
		t.Error("detection inside cooldown window")
	}
	now = now.Add(1500 * time.Millisecond)
	if !g.Detect(stt.Transcript{Text: "hey hibiki"}) {
		t.Error("detection after cooldown failed")
	}
}

func TestGate_EmptyPhraseNeverMatches(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	if g.Detect(stt.Transcript{Text: "anything"}) {
		t.Error("empty-phrase gate matched")
	}
}
