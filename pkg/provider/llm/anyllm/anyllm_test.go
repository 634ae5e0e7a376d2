package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/glyphcap/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
	}{
		{name: "empty provider", provider: "", model: "gpt-4o-mini"},
		{name: "empty model", provider: "openai", model: ""},
		{name: "unsupported provider", provider: "fakecloud", model: "m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.provider, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Backends(t *testing.T) {
	p, err := New("OpenAI", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" || p.model != "gpt-4o-mini" {
		t.Errorf("unexpected provider %q/%q", p.Name(), p.model)
	}

	if _, err := New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-test")); err != nil {
		t.Errorf("anthropic: %v", err)
	}
	if _, err := New("ollama", "llama3"); err != nil {
		t.Errorf("ollama without key: %v", err)
	}
}

func TestNew_OpenAIMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "m"}
	req := llm.UserPrompt("Translate into de.", "Good evening")
	req.Temperature = 0.2
	req.MaxTokens = 64

	got := p.buildParams(req)
	if got.Model != "m" {
		t.Errorf("model: %q", got.Model)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages: want 2, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != anyllmlib.RoleSystem || got.Messages[0].ContentString() != "Translate into de." {
		t.Errorf("system message: %+v", got.Messages[0])
	}
	if got.Messages[1].Role != llm.RoleUser || got.Messages[1].ContentString() != "Good evening" {
		t.Errorf("user message: %+v", got.Messages[1])
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("temperature: %v", got.Temperature)
	}
	if got.MaxTokens == nil || *got.MaxTokens != 64 {
		t.Errorf("max tokens: %v", got.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil || len(bare.Messages) != 1 {
		t.Errorf("zero options must stay unset: %+v", bare)
	}
}
