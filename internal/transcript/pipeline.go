// Package transcript turns speech-to-text results into caption events.
//
// An [Assembler] follows one speaker. The first transcript of an utterance
// opens it under a fresh event id; interim hypotheses become updates whose
// leading words stay fixed once two consecutive hypotheses agree on them;
// the final result runs through the [Pipeline] and closes the utterance.
//
// The Pipeline applies, in order: local polish, phonetic vocabulary
// correction and an optional language-model cleanup. Every stage after
// polish is optional and the cleanup fails open.
package transcript

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/transcript/phonetic"
)

// Cleaner rewrites final text. On error the input is kept.
type Cleaner interface {
	Clean(ctx context.Context, text string) (string, error)
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithVocabulary enables phonetic correction against m's terms.
func WithVocabulary(m *phonetic.Matcher) PipelineOption {
	return func(p *Pipeline) {
		p.phonetic.Store(m)
	}
}

// WithCleaner enables the cleanup stage.
func WithCleaner(c Cleaner) PipelineOption {
	return func(p *Pipeline) {
		p.cleaner = c
	}
}

// WithPipelineMetrics records cleanup latency and outcomes.
func WithPipelineMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline post-processes final text. It is safe for concurrent use.
type Pipeline struct {
	phonetic atomic.Pointer[phonetic.Matcher]
	cleaner  Cleaner
	metrics  *observe.Metrics
}

// NewPipeline returns a pipeline; without options it only polishes.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetVocabulary replaces the phonetic matcher used by later finals. A nil
// matcher disables correction.
func (p *Pipeline) SetVocabulary(m *phonetic.Matcher) {
	p.phonetic.Store(m)
}

// Result is the outcome of [Pipeline.Final].
type Result struct {
	Text         string
	Replacements []phonetic.Replacement
	// Cleaned reports that the cleanup stage changed the text.
	Cleaned bool
}

// Final polishes and corrects final text. It never fails: a cleanup error
// is logged and the corrected text is returned.
func (p *Pipeline) Final(ctx context.Context, text string) Result {
	res := Result{Text: PolishFinal(text)}
	if res.Text == "" {
		return res
	}
	if m := p.phonetic.Load(); m != nil && m.Len() > 0 {
		res.Text, res.Replacements = m.Correct(res.Text)
	}
	if p.cleaner == nil {
		return res
	}

	start := time.Now()
	out, err := p.cleaner.Clean(ctx, res.Text)
	if p.metrics != nil {
		p.metrics.RecordCleanup(ctx, time.Since(start), err)
	}
	if err != nil {
		slog.Debug("transcript: cleanup failed, keeping text", "err", err)
		return res
	}
	if out = strings.TrimSpace(out); out != "" && out != res.Text {
		res.Text, res.Cleaned = out, true
	}
	return res
}
