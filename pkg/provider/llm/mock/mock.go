// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Reply: func(req llm.CompletionRequest) (string, error) {
//	    return strings.ToUpper(req.Messages[0].Content), nil
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphcap/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Reply, when set, computes the response content; otherwise Content is
// returned. Err, when non-nil, is returned instead of a response. Block makes
// Complete wait for ctx to be done, which simulates a hung backend.
type Provider struct {
	mu sync.Mutex

	Content string
	Reply   func(req llm.CompletionRequest) (string, error)
	Err     error
	Block   bool

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	content, reply, err, block := p.Content, p.Reply, p.Err, p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if reply != nil {
		out, err := reply(req)
		if err != nil {
			return nil, err
		}
		content = out
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// Calls returns the number of Complete invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
