package broadcast

import (
	"encoding/json"
	"strings"
)

// Prefs is one subscriber's caption preferences.
type Prefs struct {
	Translate  bool   `json:"translate"`
	TargetLang string `json:"targetLang"`
	LangHint   string `json:"langHint"`
}

// wantsTranslation reports whether finalized text should be translated.
func (p Prefs) wantsTranslation() bool {
	return p.Translate && p.TargetLang != ""
}

// maxLangLen bounds language strings accepted from subscribers.
const maxLangLen = 35

// applyPatch returns p updated with the keys present in patch. Unknown keys
// are ignored and malformed values keep the current setting.
func (p Prefs) applyPatch(patch map[string]json.RawMessage) Prefs {
	if raw, ok := patch["translate"]; ok {
		p.Translate = coerceBool(raw, p.Translate)
	}
	if raw, ok := patch["targetLang"]; ok {
		p.TargetLang = cleanLang(raw, p.TargetLang)
	}
	if raw, ok := patch["langHint"]; ok {
		p.LangHint = cleanLang(raw, p.LangHint)
	}
	return p
}

// coerceBool accepts JSON booleans, numbers and the strings
// 1/true/yes/on and 0/false/no/off in any case. Anything else yields dflt.
func coerceBool(raw json.RawMessage, dflt bool) bool {
	switch strings.ToLower(strings.TrimSpace(rawScalar(raw))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return dflt
	}
}

// cleanLang trims a language value. Empty, null and oversized values yield
// fallback.
func cleanLang(raw json.RawMessage, fallback string) string {
	s := strings.TrimSpace(rawScalar(raw))
	if s == "" || len(s) > maxLangLen {
		return fallback
	}
	return s
}

// rawScalar renders a JSON scalar as text: strings unquoted, null as "",
// other literals verbatim. Objects and arrays yield "".
func rawScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch v.(type) {
	case nil, map[string]any, []any:
		return ""
	}
	return strings.TrimSpace(string(raw))
}
