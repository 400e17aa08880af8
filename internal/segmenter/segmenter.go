// Package segmenter slices a continuous stream of finalized transcript
// fragments into complete, punctuation-terminated sentences.
package segmenter

import "strings"

// terminalRunes close a sentence. Half-width and full-width forms are
// both recognized since recognizers mix them depending on language.
var terminalRunes = map[rune]bool{
	'。': true,
	'．': true,
	'.': true,
	'！': true,
	'!': true,
	'？': true,
	'?': true,
}

// Splitter accumulates transcript text and emits complete sentences.
// Trailing text without terminal punctuation stays buffered until the
// next Ingest or a Flush. Not safe for concurrent use; callers own the
// serialization (one splitter per session).
type Splitter struct {
	buf strings.Builder
}

func New() *Splitter {
	return &Splitter{}
}

// Ingest appends a finalized fragment to the buffer and returns every
// complete sentence now available, in order. Sentences keep their
// terminal punctuation and are trimmed of surrounding whitespace.
// Whitespace-only and punctuation-only runs are dropped.
func (s *Splitter) Ingest(fragment string) []string {
	if fragment == "" {
		return nil
	}
	s.buf.WriteString(fragment)

	text := s.buf.String()
	var sentences []string
	start := 0
	for i, r := range text {
		if terminalRunes[r] {
			end := i + len(string(r))
			if sentence, ok := normalize(text[start:end]); ok {
				sentences = append(sentences, sentence)
			}
			start = end
		}
	}

	s.buf.Reset()
	s.buf.WriteString(text[start:])
	return sentences
}

// Flush drains the buffered remainder as one final sentence, complete
// or not. Returns the empty string when nothing is pending.
func (s *Splitter) Flush() string {
	remainder := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return remainder
}

// Pending reports the currently buffered, not-yet-terminated text.
func (s *Splitter) Pending() string {
	return s.buf.String()
}

// normalize trims a raw split and rejects units with no content beyond
// the punctuation itself.
func normalize(raw string) (string, bool) {
	sentence := strings.TrimSpace(raw)
	if sentence == "" {
		return "", false
	}
	for _, r := range sentence {
		if !terminalRunes[r] {
			return sentence, true
		}
	}
	return "", false
}
