package resilience

import (
	"context"

	"github.com/MrWong99/glyphcap/pkg/provider/translate"
)

// TranslateFallback implements [translate.Provider] over a [FallbackGroup].
// With a single backend it acts as a plain circuit breaker: once the backend
// trips, calls fail immediately with [ErrCircuitOpen] and the caller shows
// the untranslated text.
type TranslateFallback struct {
	group *FallbackGroup[translate.Provider]
}

var _ translate.Provider = (*TranslateFallback)(nil)

// NewTranslateFallback creates a TranslateFallback with primary first.
func NewTranslateFallback(primary translate.Provider, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another translation backend.
func (f *TranslateFallback) AddFallback(name string, p translate.Provider) {
	f.group.AddFallback(name, p)
}

// Breaker exposes the named backend's breaker for health reporting.
func (f *TranslateFallback) Breaker(name string) *CircuitBreaker {
	return f.group.Breaker(name)
}

// Backends returns the backend names in trial order.
func (f *TranslateFallback) Backends() []string { return f.group.Names() }

// Translate implements [translate.Provider].
func (f *TranslateFallback) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p translate.Provider) (string, error) {
		return p.Translate(ctx, text, targetLang)
	})
}
