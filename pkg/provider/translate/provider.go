// Package translate defines the Provider interface for caption translation
// and an implementation on top of any [llm.Provider].
//
// Translation is only ever requested for short caption text. Callers bound
// every call with a context deadline and fall back to the original text on
// error, so implementations should fail fast rather than retry.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/glyphcap/pkg/provider/llm"
)

// ErrEmptyResult is returned when the backend produced no text.
var ErrEmptyResult = errors.New("translate: empty result")

// Provider translates text into a target language.
type Provider interface {
	// Translate returns text rendered in targetLang (a BCP-47 style code such
	// as "de" or "pt-BR"). Text already in targetLang should come back with
	// at most light punctuation and casing cleanup.
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Func adapts a plain function to [Provider].
type Func func(ctx context.Context, text, targetLang string) (string, error)

// Translate implements Provider.
func (f Func) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return f(ctx, text, targetLang)
}

const defaultPrompt = "You are a precise live-caption translator. Translate the user's text into %s. " +
	"Keep names and game or technical terms unchanged. If the text is already in %s, " +
	"return it with only light punctuation and casing fixes. Return only the translation."

// LLM translates through a text-completion backend.
type LLM struct {
	backend   llm.Provider
	prompt    string
	maxTokens int
}

// LLMOption configures an [LLM] translator.
type LLMOption func(*LLM)

// WithPrompt replaces the system prompt. Every %s in tmpl is replaced with
// the target language.
func WithPrompt(tmpl string) LLMOption {
	return func(t *LLM) {
		t.prompt = tmpl
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) LLMOption {
	return func(t *LLM) {
		t.maxTokens = n
	}
}

// NewLLM returns a translator backed by p.
func NewLLM(p llm.Provider, opts ...LLMOption) *LLM {
	t := &LLM{backend: p, prompt: defaultPrompt, maxTokens: 256}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ Provider = (*LLM)(nil)

// Translate implements Provider. Blank input is returned unchanged without a
// backend call.
func (t *LLM) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if targetLang == "" {
		return "", fmt.Errorf("translate: target language must not be empty")
	}

	req := llm.UserPrompt(t.systemPrompt(targetLang), text)
	req.MaxTokens = t.maxTokens
	resp, err := t.backend.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}

func (t *LLM) systemPrompt(lang string) string {
	n := strings.Count(t.prompt, "%s")
	if n == 0 {
		return t.prompt
	}
	args := make([]any, n)
	for i := range args {
		args[i] = lang
	}
	return fmt.Sprintf(t.prompt, args...)
}
