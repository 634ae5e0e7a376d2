package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder is the text of a caption that has begun but has no words yet.
const Placeholder = "…"

// minTerminalRunes is the length below which a final fragment is left
// without a forced period.
const minTerminalRunes = 18

var (
	reLeadLetter    = regexp.MustCompile(`^(\s*["“'（(【]?\s*)(\p{L})`)
	reSpaceRun      = regexp.MustCompile(`\s+`)
	reSpaceBeforeP  = regexp.MustCompile(`\s+([,.;:!?])`)
	reSpaceAfterOpn = regexp.MustCompile(`([(\[“‘（【])\s+`)
	reSpaceAfterQt  = regexp.MustCompile(`(^|\s)(["'])\s+`)
	reDoubleDash    = regexp.MustCompile(`\s?--\s?`)
)

// PolishInterim tidies interim text without changing its words: quotes and
// dashes, first-letter capitalisation and spacing around punctuation.
func PolishInterim(text string) string {
	s := strings.ReplaceAll(text, "``", "“")
	s = strings.ReplaceAll(s, "''", "”")
	s = reDoubleDash.ReplaceAllString(s, "—")
	s = capitalize(s)
	s = reSpaceRun.ReplaceAllString(s, " ")
	s = reSpaceBeforeP.ReplaceAllString(s, "$1")
	s = reSpaceAfterOpn.ReplaceAllString(s, "$1")
	s = reSpaceAfterQt.ReplaceAllString(s, "$1$2")
	return strings.TrimSpace(s)
}

// PolishFinal is PolishInterim plus a terminal period for text that looks
// like a complete clause.
func PolishFinal(text string) string {
	s := PolishInterim(text)
	if s == "" || endsSentence(s) || utf8.RuneCountInString(s) < minTerminalRunes {
		return s
	}
	return s + "."
}

func capitalize(s string) string {
	loc := reLeadLetter.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	r, size := utf8.DecodeRuneInString(s[loc[4]:])
	return s[:loc[4]] + string(unicode.ToUpper(r)) + s[loc[4]+size:]
}

func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(".!?…。！？", r)
}
