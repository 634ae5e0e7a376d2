// Package phonetic corrects misheard vocabulary terms (player names, place
// names, jargon) in caption text.
//
// Matching uses Double Metaphone codes to find phonetic candidates and
// Jaro-Winkler similarity to rank them. A term whose codes share nothing
// with the input can still match on spelling alone, but only above the
// stricter fuzzy threshold.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// anchorThreshold is the similarity the first word of a window must
	// have with the first word of a term before the window is considered.
	anchorThreshold = 0.80
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a phonetic
// candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum similarity for a term with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

type term struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Matcher holds a prepared vocabulary. It is read-only after New and safe
// for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxWords          int
}

// New prepares vocabulary for matching. Blank terms are skipped.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		toks := strings.Fields(lower)
		m.terms = append(m.terms, term{
			text:   strings.TrimSpace(v),
			lower:  lower,
			tokens: toks,
			codes:  codesForTokens(toks),
		})
		m.maxWords = max(m.maxWords, len(toks))
	}
	return m
}

// Len returns the number of prepared terms.
func (m *Matcher) Len() int { return len(m.terms) }

// Match finds the vocabulary term closest to phrase. When matched is false
// corrected is phrase and confidence is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if len(m.terms) == 0 || lower == "" {
		return phrase, 0, false
	}
	toks := strings.Fields(lower)
	codes := codesForTokens(toks)

	var best *term
	var bestScore float64
	bestPhonetic := false
	for i := range m.terms {
		t := &m.terms[i]
		score := bestJWScore(toks, t.tokens, lower, t.lower)
		if codesOverlap(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == nil {
		return phrase, 0, false
	}
	return best.text, bestScore, true
}

// Replacement is one substitution made by [Matcher.Correct].
type Replacement struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Correct replaces word windows of text that sound like a vocabulary term.
// At each position the best scoring window wins, ties going to the longer
// one. Punctuation around a replaced window is kept.
func (m *Matcher) Correct(text string) (string, []Replacement) {
	words := strings.Fields(text)
	if len(words) == 0 || len(m.terms) == 0 {
		return text, nil
	}
	bare := make([]string, len(words))
	for i, w := range words {
		bare[i] = strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
	}

	var out []string
	var reps []Replacement
	for i := 0; i < len(words); {
		n, t, score := m.bestWindow(bare, i)
		if t == nil || strings.TrimFunc(strings.Join(words[i:i+n], " "), unicode.IsPunct) == t.text {
			out = append(out, words[i])
			i++
			continue
		}
		lead, _ := splitPunct(words[i], true)
		_, trail := splitPunct(words[i+n-1], false)
		out = append(out, lead+t.text+trail)
		reps = append(reps, Replacement{
			Original:   strings.Join(words[i:i+n], " "),
			Corrected:  t.text,
			Confidence: score,
		})
		i += n
	}
	return strings.Join(out, " "), reps
}

// bestWindow scores every window starting at i against every term whose
// word count is within one of the window's.
func (m *Matcher) bestWindow(bare []string, i int) (int, *term, float64) {
	if bare[i] == "" {
		return 0, nil, 0
	}
	var (
		bestN     int
		best      *term
		bestScore float64
	)
	for n := 1; n <= m.maxWords+1 && i+n <= len(bare); n++ {
		window := bare[i : i+n]
		full := strings.Join(window, " ")
		concat := strings.Join(window, "")
		codes := codesForTokens(window)
		for k := range m.terms {
			t := &m.terms[k]
			if n < len(t.tokens)-1 || n > len(t.tokens)+1 {
				continue
			}
			if matchr.JaroWinkler(window[0], t.tokens[0], false) < anchorThreshold {
				continue
			}
			score := max(
				matchr.JaroWinkler(full, t.lower, false),
				matchr.JaroWinkler(concat, strings.Join(t.tokens, ""), false),
			)
			threshold := m.fuzzyThreshold
			if codesOverlap(codes, t.codes) {
				threshold = m.phoneticThreshold
			}
			if score < threshold {
				continue
			}
			if score > bestScore || (score == bestScore && n > bestN) {
				bestN, best, bestScore = n, t, score
			}
		}
	}
	return bestN, best, bestScore
}

// splitPunct returns the leading (lead=true) or trailing punctuation of w.
func splitPunct(w string, lead bool) (string, string) {
	if lead {
		trimmed := strings.TrimLeftFunc(w, unicode.IsPunct)
		return w[:len(w)-len(trimmed)], ""
	}
	trimmed := strings.TrimRightFunc(w, unicode.IsPunct)
	return "", w[len(trimmed):]
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the best of: full-string similarity, similarity with
// spaces removed, and the best single word pairing.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)
	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inputTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
