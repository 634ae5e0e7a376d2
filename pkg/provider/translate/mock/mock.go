// Package mock provides a test double for translate.Provider.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/glyphcap/pkg/provider/translate"
)

// Call records one Translate invocation.
type Call struct {
	Text       string
	TargetLang string
}

// Provider is a scripted translate.Provider.
//
// By default it returns "[<lang>] <text>". Err makes every call fail; Delay
// sleeps before answering (respecting ctx); Gate, if non-nil, blocks each call
// until a value is received or ctx is done.
type Provider struct {
	mu sync.Mutex

	Err   error
	Delay time.Duration
	Gate  chan struct{}
	// Fn overrides the default rendering.
	Fn func(text, lang string) (string, error)

	calls []Call
}

var _ translate.Provider = (*Provider)(nil)

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text, targetLang string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: text, TargetLang: targetLang})
	err, delay, gate, fn := p.Err, p.Delay, p.Gate, p.Fn
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if fn != nil {
		return fn(text, targetLang)
	}
	return "[" + targetLang + "] " + text, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
