// Package llm defines the Provider interface for the text-completion backends
// glyphcap uses to translate captions and to clean up final transcripts.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, Gemini, a
// local Ollama instance, ...) behind a single blocking Complete call. Caption
// work is short, single-turn and latency-bound, so there is no streaming or
// tool-calling surface.
//
// Implementors must be safe for concurrent use and must return promptly when
// the supplied context is cancelled.
package llm

import "context"

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message of a completion request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role    string
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation; the last one is usually the user
	// text to transform.
	Messages []Message

	// Temperature in [0.0, 2.0]. Zero requests the provider default, which for
	// caption work callers usually want to be deterministic anyway.
	Temperature float64

	// MaxTokens caps the completion. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the full reply of a Complete call.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// UserPrompt is a convenience for the common single-turn request.
func UserPrompt(system, text string) CompletionRequest {
	return CompletionRequest{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: text}},
	}
}
