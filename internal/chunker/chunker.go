// Package chunker splits a streamed reply into synthesis-sized text chunks.
//
// Chunks are cut eagerly at sentence boundaries so synthesis of the first
// sentence starts while the model is still generating the rest. A rune cap
// bounds chunk length for run-on sentences, cutting back at the last
// whitespace before the cap when one exists.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// defaultMaxRunes caps a single chunk's length.
const defaultMaxRunes = 120

// TextChunk is one synthesis unit of a reply.
type TextChunk struct {
	// Epoch tags the reply this chunk belongs to.
	Epoch int64

	// Index orders chunks within the reply, starting at 0.
	Index int

	// Text is the chunk content, leading whitespace trimmed.
	Text string

	// Final marks the last chunk of the reply.
	Final bool
}

// Chunker accumulates streamed delta text for one reply. It is not safe for
// concurrent use; the dialogue worker owns it for the turn.
type Chunker struct {
	epoch    int64
	maxRunes int
	buf      strings.Builder
	index    int
}

// New creates a chunker for one reply tagged with epoch. maxRunes <= 0
// selects the default cap.
func New(epoch int64, maxRunes int) *Chunker {
	if maxRunes <= 0 {
		maxRunes = defaultMaxRunes
	}
	return &Chunker{epoch: epoch, maxRunes: maxRunes}
}

// Feed appends delta text and returns any chunks completed by it, in order.
func (c *Chunker) Feed(delta string) []TextChunk {
	if delta == "" {
		return nil
	}
	c.buf.WriteString(delta)

	var out []TextChunk
	for {
		s := c.buf.String()
		cut := boundary(s)
		if cut < 0 && utf8.RuneCountInString(s) > c.maxRunes {
			cut = capCut(s, c.maxRunes)
		}
		if cut < 0 {
			break
		}
		chunk, rest := s[:cut], s[cut:]
		c.buf.Reset()
		c.buf.WriteString(strings.TrimLeftFunc(rest, unicode.IsSpace))
		if text := strings.TrimSpace(chunk); text != "" {
			out = append(out, c.emit(text, false))
		}
	}
	return out
}

// Flush returns the remaining buffered text as the final chunk. When the
// buffer is empty the final marker is carried by an empty chunk, so the
// consumer always sees exactly one Final per reply.
func (c *Chunker) Flush() TextChunk {
	text := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return c.emit(text, true)
}

func (c *Chunker) emit(text string, final bool) TextChunk {
	chunk := TextChunk{
		Epoch: c.epoch,
		Index: c.index,
		Text:  text,
		Final: final,
	}
	c.index++
	return chunk
}

// boundary returns the byte offset just past the first sentence boundary, or
// -1 when none is complete yet. ASCII terminators need a following space (or
// newline) to avoid splitting decimals and abbreviations mid-stream; CJK
// terminators are self-delimiting.
func boundary(s string) int {
	for i, r := range s {
		switch r {
		case '.', '!', '?':
			next := i + 1
			if next < len(s) {
				switch s[next] {
				case ' ', '\n', '\r', '\t':
					return next
				}
			}
		case '。', '！', '？':
			return i + utf8.RuneLen(r)
		}
	}
	return -1
}

// capCut returns the byte offset to cut an over-long chunk: the last
// whitespace before the cap, or the cap itself when the text has no spaces.
func capCut(s string, maxRunes int) int {
	// Byte offset of the maxRunes-th rune.
	capByte := len(s)
	count := 0
	for i := range s {
		if count == maxRunes {
			capByte = i
			break
		}
		count++
	}

	lastSpace := -1
	for i, r := range s[:capByte] {
		if unicode.IsSpace(r) {
			lastSpace = i
		}
	}
	if lastSpace > 0 {
		return lastSpace
	}
	return capByte
}
