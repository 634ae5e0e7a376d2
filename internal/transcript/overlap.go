package transcript

import (
	"slices"
	"strings"
	"unicode"
)

// tailWords is how much of the previous final is kept for overlap trimming.
const tailWords = 10

// minOverlapWords is the shortest repeated run trimmed, unless the whole
// new text is a repeat.
const minOverlapWords = 2

// lastWords returns the last n words of s.
func lastWords(s string, n int) []string {
	w := strings.Fields(s)
	if len(w) > n {
		w = w[len(w)-n:]
	}
	return w
}

// trimOverlap removes from the start of curr the words that repeat the end
// of prevTail. Clips cut with pre-roll audio often transcribe the last
// words of the previous clip again. Comparison ignores case and
// punctuation.
func trimOverlap(prevTail []string, curr string) string {
	words := strings.Fields(curr)
	if len(prevTail) == 0 || len(words) == 0 {
		return curr
	}
	a := normWords(prevTail)
	b := normWords(words)
	best := 0
	for k := min(len(a), len(b)); k >= 1; k-- {
		if slices.Equal(a[len(a)-k:], b[:k]) {
			best = k
			break
		}
	}
	if best == 0 || (best < minOverlapWords && best < len(b)) {
		return curr
	}
	return strings.Join(words[best:], " ")
}

func normWords(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
	}
	return out
}

// commonPrefix returns the number of leading words a and b share exactly.
func commonPrefix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
