package caption

import (
	"strings"
	"time"
	"unicode/utf8"
)

// promotable reports whether interim text looks complete enough to be
// finalized by the lane when the provider never sends a final.
func (c Config) promotable(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < c.PromoteMinChars || len(strings.Fields(text)) < c.PromoteMinWords {
		return false
	}
	return endsSentence(text) || n >= c.PromoteLongChars
}

// promoteDelay is the idle time after which promotable text is finalized.
// Long text is promoted sooner than short fragments.
func (c Config) promoteDelay(text string) time.Duration {
	if utf8.RuneCountInString(strings.TrimSpace(text)) >= c.PromoteLongChars {
		return c.PromoteLongDelay
	}
	return c.PromoteShortDelay
}

func endsSentence(text string) bool {
	text = strings.TrimRight(text, `"'”’)]`)
	r, _ := utf8.DecodeLastRuneInString(text)
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

// coveredBy reports whether a provider final adds nothing to a lane-promoted
// final: it is equal to, a prefix of or a suffix of the promoted text.
func coveredBy(final, promoted string) bool {
	f := strings.TrimSpace(final)
	p := strings.TrimSpace(promoted)
	return strings.HasPrefix(p, f) || strings.HasSuffix(p, f)
}
