package stt

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "", want: LanguageAuto, wantOK: true},
		{in: "AUTO", want: LanguageAuto, wantOK: true},
		{in: "en", want: "en", wantOK: true},
		{in: " DE ", want: "de", wantOK: true},
		{in: "pt-br", want: "pt-BR", wantOK: true},
		{in: "en_US", want: "en-US", wantOK: true},
		{in: "eng", wantOK: false},
		{in: "e1", wantOK: false},
		{in: "en-USA", wantOK: false},
		{in: "en-", wantOK: false},
		{in: "日本", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := NormalizeLanguage(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestResolveLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pin, def, want string
	}{
		{pin: "ja", def: "en", want: "ja"},
		{pin: LanguageAuto, def: "en", want: "en"},
		{pin: "", def: LanguageAuto, want: LanguageAuto},
		{pin: "", def: "", want: LanguageAuto},
	}
	for _, tt := range tests {
		if got := ResolveLanguage(tt.pin, tt.def); got != tt.want {
			t.Errorf("ResolveLanguage(%q, %q) = %q, want %q", tt.pin, tt.def, got, tt.want)
		}
	}
}
