package llm

import (
	"strings"
	"unicode"
)

// Segmenter cuts streamed model text into speakable sentences. A sentence
// ends at '.', '?' or '!' followed by whitespace; runs like "?!" stay together.
type Segmenter struct {
	buf strings.Builder
}

// Push adds a delta and returns any sentences it completed.
func (s *Segmenter) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	s.buf.WriteString(delta)
	text := s.buf.String()

	var out []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		if !isTerminator(text[i]) || !unicode.IsSpace(rune(text[i+1])) {
			continue
		}
		if sent := strings.TrimSpace(text[start : i+1]); sent != "" {
			out = append(out, sent)
		}
		start = i + 1
	}
	if start > 0 {
		rest := text[start:]
		s.buf.Reset()
		s.buf.WriteString(rest)
	}
	return out
}

// Flush returns whatever text is left, terminated or not.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// SplitSentences segments a complete text.
func SplitSentences(text string) []string {
	var s Segmenter
	out := s.Push(text)
	if rest := s.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}

func isTerminator(b byte) bool { return b == '.' || b == '!' || b == '?' }
