package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func feedAll(c *Chunker, deltas ...string) []TextChunk {
	var out []TextChunk
	for _, d := range deltas {
		out = append(out, c.Feed(d)...)
	}
	return out
}

func texts(chunks []TextChunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

func TestChunker_SentenceBoundaries(t *testing.T) {
	t.Parallel()

	c := New(1, 0)
	chunks := feedAll(c, "Hello there. How are", " you today? I am")
	got := texts(chunks)
	want := []string{"Hello there.", "How are you today?"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}

	final := c.Flush()
	if final.Text != "I am" {
		t.Errorf("final text = %q, want %q", final.Text, "I am")
	}
	if !final.Final {
		t.Error("Flush chunk not marked final")
	}
}

func TestChunker_IndexAndEpochTagging(t *testing.T) {
	t.Parallel()

	c := New(7, 0)
	chunks := feedAll(c, "One. Two. ")
	chunks = append(chunks, c.Flush())

	for i, ch := range chunks {
		if ch.Epoch != 7 {
			t.Errorf("chunk %d epoch = %d, want 7", i, ch.Epoch)
		}
		if ch.Index != i {
			t.Errorf("chunk %d index = %d", i, ch.Index)
		}
	}
	if !chunks[len(chunks)-1].Final {
		t.Error("last chunk not final")
	}
}

func TestChunker_DecimalNotSplit(t *testing.T) {
	t.Parallel()

	c := New(1, 0)
	chunks := feedAll(c, "Pi is 3.14159 roughly. Yes")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "Pi is 3.14159 roughly." {
		t.Errorf("chunk = %q", chunks[0].Text)
	}
}

func TestChunker_CJKTerminators(t *testing.T) {
	t.Parallel()

	c := New(1, 0)
	chunks := feedAll(c, "こんにちは。元気ですか？また")
	got := texts(chunks)
	want := []string{"こんにちは。", "元気ですか？"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestChunker_LengthCap(t *testing.T) {
	t.Parallel()

	c := New(1, 20)
	long := strings.Repeat("word ", 10) // 50 runes, no sentence boundary
	chunks := c.Feed(long)
	if len(chunks) == 0 {
		t.Fatal("expected capped chunks")
	}
	for i, ch := range chunks {
		if n := utf8.RuneCountInString(ch.Text); n > 20 {
			t.Errorf("chunk %d has %d runes, cap is 20: %q", i, n, ch.Text)
		}
	}

	rest := c.Flush()
	rejoined := strings.Join(append(texts(chunks), rest.Text), " ")
	if strings.Join(strings.Fields(rejoined), " ") != strings.TrimSpace(strings.Join(strings.Fields(long), " ")) {
		t.Errorf("text lost by capping: %q", rejoined)
	}
}

func TestChunker_CapWithoutWhitespace(t *testing.T) {
	t.Parallel()

	c := New(1, 10)
	chunks := c.Feed(strings.Repeat("あ", 25))
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, ch := range chunks {
		if n := utf8.RuneCountInString(ch.Text); n != 10 {
			t.Errorf("chunk %d has %d runes, want 10", i, n)
		}
	}
	if got := utf8.RuneCountInString(c.Flush().Text); got != 5 {
		t.Errorf("flush has %d runes, want 5", got)
	}
}

func TestChunker_EmptyFlushStillFinal(t *testing.T) {
	t.Parallel()

	c := New(1, 0)
	final := c.Flush()
	if !final.Final {
		t.Error("empty flush not marked final")
	}
	if final.Text != "" {
		t.Errorf("empty flush text = %q", final.Text)
	}
}

func TestChunker_TrailingTerminatorNeedsSpace(t *testing.T) {
	t.Parallel()

	// A terminator at end of buffer may still be mid-token (e.g. "3." of
	// "3.14"); it must not cut until more text arrives.
	c := New(1, 0)
	if chunks := c.Feed("Wait."); len(chunks) != 0 {
		t.Fatalf("premature cut: %v", texts(chunks))
	}
	chunks := c.Feed(" Next")
	if len(chunks) != 1 || chunks[0].Text != "Wait." {
		t.Fatalf("got %v, want [Wait.]", texts(chunks))
	}
}
