// Package budget estimates token counts and trims prompt input to fit a
// context window. Backends use different tokenizers, so the estimate is a
// character heuristic: 1 token is about 4 characters.
package budget

import (
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B, GPT-3.5)
	// while leaving room for the output. Override via Config.MaxContextTokens.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory removes the oldest messages from history until the estimated
// token count of fixed plus history fits within maxTokens. fixed holds
// messages that must not be dropped (system prompt, retrieved context, the
// current question).
//
// If even an empty history exceeds the budget, the empty slice is returned.
// Callers warn separately when fixed alone is over budget.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		// Drop the oldest message.
		history = history[1:]
	}
	return history
}

// TrimText cuts s so that its estimate fits within maxTokens. The cut lands on
// the last paragraph or line break inside the budget when there is one.
// It reports whether anything was removed.
func TrimText(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || Estimate(s) <= maxTokens {
		return s, false
	}
	limit := maxTokens * charsPerToken
	if limit >= len(s) {
		return s, false
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	cut := s[:limit]
	for _, sep := range []string{"\n\n", "\n"} {
		if i := strings.LastIndex(cut, sep); i > limit/2 {
			return cut[:i], true
		}
	}
	return cut, true
}
