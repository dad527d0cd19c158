package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSegmenterStreaming(t *testing.T) {
	var s Segmenter
	var got []string
	for _, d := range []string{"Your order", " shipped yesterday", ". It should", " arrive by 3.5 days?! ", "Anything else"} {
		got = append(got, s.Push(d)...)
	}
	assert.Equal(t, []string{"Your order shipped yesterday.", "It should arrive by 3.5 days?!"}, got)
	assert.Equal(t, "Anything else", s.Flush())
	assert.Equal(t, "", s.Flush())
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"Hi.", "How are you?", "Great!"}, SplitSentences("Hi. How are you?  Great!"))
	assert.Empty(t, SplitSentences("   "))
}

func sentenceText() *rapid.Generator[string] {
	word := rapid.StringMatching(`[a-z0-9]{1,8}`)
	sep := rapid.SampledFrom([]string{" ", " ", " ", ". ", "? ", "! ", "?! ", ".\n", ", "})
	return rapid.Custom(func(t *rapid.T) string {
		n := rapid.IntRange(1, 30).Draw(t, "n")
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteString(word.Draw(t, "word"))
			b.WriteString(sep.Draw(t, "sep"))
		}
		return b.String()
	})
}

func TestSegmenterProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := sentenceText().Draw(t, "text")

		// chunking must not change the result
		whole := SplitSentences(text)
		var s Segmenter
		var chunked []string
		rest := text
		for len(rest) > 0 {
			n := rapid.IntRange(1, len(rest)).Draw(t, "chunk")
			chunked = append(chunked, s.Push(rest[:n])...)
			rest = rest[n:]
		}
		if tail := s.Flush(); tail != "" {
			chunked = append(chunked, tail)
		}
		if strings.Join(whole, "|") != strings.Join(chunked, "|") {
			t.Fatalf("chunked %q != whole %q", chunked, whole)
		}

		// no text is lost
		if strings.Join(strings.Fields(strings.Join(whole, " ")), " ") != strings.Join(strings.Fields(text), " ") {
			t.Fatalf("text lost: %q -> %q", text, whole)
		}

		// every sentence but the last ends in a terminator
		for i, sent := range whole {
			if sent == "" {
				t.Fatalf("empty sentence at %d", i)
			}
			if i < len(whole)-1 && !isTerminator(sent[len(sent)-1]) {
				t.Fatalf("sentence %q does not end a sentence", sent)
			}
		}
	})
}
