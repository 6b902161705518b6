// Package offload keeps a conversation inside a token budget. Compact spills
// oversized tool output to files; Compress folds older history into dense
// LLM-written summaries; Auto chains the two, compressing only when
// compaction alone did not shrink the conversation enough.
package offload

import (
	"math"
	"unicode"

	"github.com/loomworks/loom/pkg/llm"
)

// Counter estimates token usage for a piece of text. An estimate only has to
// be consistent within one pipeline run.
type Counter interface {
	Count(text string) int
}

// RuleCounter is the cheap default estimator: CJK characters cost half a
// token, everything else a quarter, rounded up per text.
type RuleCounter struct{}

func (RuleCounter) Count(text string) int {
	var cost float64
	for _, r := range text {
		if isCJK(r) {
			cost += 0.5
		} else {
			cost += 0.25
		}
	}
	return int(math.Ceil(cost))
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// CountMessage estimates one message, including its reasoning text.
func CountMessage(c Counter, m llm.Message) int {
	n := c.Count(m.Text())
	if m.Reasoning != "" {
		n += c.Count(m.Reasoning)
	}
	return n
}

// CountAll estimates a whole message list.
func CountAll(c Counter, msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += CountMessage(c, m)
	}
	return total
}
