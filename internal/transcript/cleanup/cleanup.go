// Package cleanup implements the optional language-model pass over final
// caption text.
//
// The [Cleaner] asks an [llm.Provider] to fix casing, punctuation and
// obvious recognition artifacts without changing meaning. The reply is
// checked against the input token by token; a reply that adds or drops too
// many words is rejected. Callers treat every error as "keep the input":
// cleanup must never delay or drop a caption.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/glyphcap/pkg/provider/llm"
)

// Defaults for [New].
const (
	DefaultTimeout   = 1500 * time.Millisecond
	DefaultMaxTokens = 120
)

var (
	// ErrEmptyReply is returned when the model produced no text.
	ErrEmptyReply = errors.New("cleanup: empty reply")
	// ErrRejected is returned when the reply rewrote too much of the input.
	ErrRejected = errors.New("cleanup: reply rejected")
)

const systemPrompt = `You post-process live speech-recognition captions.
Rules:
- Fix transcription errors, punctuation and capitalization.
- Fix spacing and obvious recognition artifacts.
- Never add words or change the meaning.
- Keep names and numbers exactly. Leave unclear words as they are.
- Answer in the same language as the input.
- Output only the cleaned text, without quotes or commentary.`

// Option configures a [Cleaner].
type Option func(*Cleaner)

// WithTimeout bounds each cleanup request. Default: 1.5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Cleaner) {
		c.timeout = d
	}
}

// WithMaxTokens caps the reply length. Default: 120.
func WithMaxTokens(n int) Option {
	return func(c *Cleaner) {
		c.maxTokens = n
	}
}

// WithVocabulary lists names and terms the model must keep verbatim.
func WithVocabulary(terms []string) Option {
	return func(c *Cleaner) {
		c.vocabulary = append([]string(nil), terms...)
	}
}

// Cleaner is safe for concurrent use.
type Cleaner struct {
	llm        llm.Provider
	timeout    time.Duration
	maxTokens  int
	vocabulary []string
}

// New returns a Cleaner backed by provider.
func New(provider llm.Provider, opts ...Option) *Cleaner {
	c := &Cleaner{
		llm:       provider,
		timeout:   DefaultTimeout,
		maxTokens: DefaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Clean returns the cleaned text. On any error the caller should keep text.
func (c *Cleaner) Clean(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := llm.UserPrompt(c.prompt(), text)
	req.MaxTokens = c.maxTokens
	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return text, fmt.Errorf("cleanup: complete: %w", err)
	}

	out := unwrap(resp.Content)
	if out == "" {
		return text, ErrEmptyReply
	}
	if !plausible(text, out) {
		return text, fmt.Errorf("%w: %q", ErrRejected, out)
	}
	return out, nil
}

func (c *Cleaner) prompt() string {
	if len(c.vocabulary) == 0 {
		return systemPrompt
	}
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\nKnown names and terms (keep this spelling):\n")
	for _, v := range c.vocabulary {
		sb.WriteString("- ")
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// unwrap strips code fences and a single pair of surrounding quotes that
// some models add despite the prompt.
func unwrap(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimSuffix(after, "```")
		s = strings.TrimSpace(s)
	}
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if len(s) > len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			inner := s[len(q[0]) : len(s)-len(q[1])]
			if !strings.Contains(inner, q[0]) {
				s = strings.TrimSpace(inner)
			}
			break
		}
	}
	return s
}
