package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/glyphcap/pkg/provider/llm"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	stt  map[string]func(ProviderEntry) (stt.Provider, error)
	clip map[string]func(ProviderEntry) (stt.ClipTranscriber, error)
	llm  map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:  make(map[string]func(ProviderEntry) (stt.Provider, error)),
		clip: make(map[string]func(ProviderEntry) (stt.ClipTranscriber, error)),
		llm:  make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterSTT registers a streaming STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterClip registers a batch clip transcriber factory under name.
func (r *Registry) RegisterClip(name string, factory func(ProviderEntry) (stt.ClipTranscriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clip[name] = factory
}

// RegisterLLM registers an LLM factory under name. LLMs back translation
// and transcript cleanup.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateSTT instantiates a streaming provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateClip instantiates a clip transcriber.
func (r *Registry) CreateClip(entry ProviderEntry) (stt.ClipTranscriber, error) {
	return create(r, r.clip, "clip", entry)
}

// CreateLLM instantiates an LLM provider.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

func create[T any](r *Registry, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
