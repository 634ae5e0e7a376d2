package cleanup

import (
	"strings"
	"unicode"
)

// minEditBudget is the number of word edits always tolerated, so short
// captions can still gain a fixed word split or merge.
const minEditBudget = 2

// plausible reports whether cleaned is a light edit of original: the words
// inserted plus the words dropped stay within a third of the input length
// (at least minEditBudget). Tokens are compared without case or punctuation.
func plausible(original, cleaned string) bool {
	a := tokens(original)
	b := tokens(cleaned)
	common := lcsLen(a, b)
	edits := (len(a) - common) + (len(b) - common)
	return edits <= max(minEditBudget, len(a)/3)
}

func tokens(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.ToLower(strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// lcsLen is the length of the longest common subsequence of a and b.
func lcsLen(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
