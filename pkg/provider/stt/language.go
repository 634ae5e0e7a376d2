package stt

import "strings"

// NormalizeLanguage validates a language pin and returns its canonical form.
// Accepted inputs are LanguageAuto, a two-letter code ("en") or a two-letter
// code with a two-letter region ("pt-BR", "en_us"). The empty string maps to
// LanguageAuto. Codes are lower-cased and regions upper-cased.
func NormalizeLanguage(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, LanguageAuto) {
		return LanguageAuto, true
	}
	s = strings.ReplaceAll(s, "_", "-")
	base, region, hasRegion := strings.Cut(s, "-")
	if !isLetters(base, 2) {
		return "", false
	}
	base = strings.ToLower(base)
	if !hasRegion {
		return base, true
	}
	if !isLetters(region, 2) {
		return "", false
	}
	return base + "-" + strings.ToUpper(region), true
}

// ResolveLanguage picks the language for a new session: a non-auto pin wins,
// then a non-auto default, else LanguageAuto.
func ResolveLanguage(pin, fallback string) string {
	if pin != "" && pin != LanguageAuto {
		return pin
	}
	if fallback != "" && fallback != LanguageAuto {
		return fallback
	}
	return LanguageAuto
}

func isLetters(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
