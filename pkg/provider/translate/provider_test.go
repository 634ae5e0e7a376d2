package translate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/glyphcap/pkg/provider/llm"
	llmmock "github.com/MrWong99/glyphcap/pkg/provider/llm/mock"
	"github.com/MrWong99/glyphcap/pkg/provider/translate"
)

func TestLLM_Translate(t *testing.T) {
	t.Parallel()
	backend := &llmmock.Provider{Content: "  Hallo zusammen.  "}
	tr := translate.NewLLM(backend)

	got, err := tr.Translate(context.Background(), "Hello everyone.", "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Hallo zusammen." {
		t.Errorf("got %q", got)
	}
	if backend.Calls() != 1 {
		t.Fatalf("backend calls: %d", backend.Calls())
	}
	req := backend.CompleteCalls[0].Req
	if !strings.Contains(req.SystemPrompt, "into de") {
		t.Errorf("system prompt does not name the target: %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "Hello everyone." {
		t.Errorf("unexpected messages %+v", req.Messages)
	}
}

func TestLLM_Translate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		backend *llmmock.Provider
		text    string
		lang    string
		want    string
		wantErr error
		anyErr  bool
	}{
		{name: "blank input skips backend", backend: &llmmock.Provider{}, text: "   ", lang: "de", want: "   "},
		{name: "missing target", backend: &llmmock.Provider{Content: "x"}, text: "hi", anyErr: true},
		{name: "backend error", backend: &llmmock.Provider{Err: errors.New("boom")}, text: "hi", lang: "fr", anyErr: true},
		{name: "empty result", backend: &llmmock.Provider{Content: " "}, text: "hi", lang: "fr", wantErr: translate.ErrEmptyResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := translate.NewLLM(tt.backend).Translate(context.Background(), tt.text, tt.lang)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
			default:
				if err != nil || got != tt.want {
					t.Fatalf("got %q, %v", got, err)
				}
				if tt.backend.Calls() != 0 {
					t.Error("backend must not be called")
				}
			}
		})
	}
}

func TestLLM_CustomPrompt(t *testing.T) {
	t.Parallel()
	backend := &llmmock.Provider{Content: "ok"}
	tr := translate.NewLLM(backend, translate.WithPrompt("Render in %s only."), translate.WithMaxTokens(32))
	if _, err := tr.Translate(context.Background(), "text", "ja"); err != nil {
		t.Fatal(err)
	}
	req := backend.CompleteCalls[0].Req
	if req.SystemPrompt != "Render in ja only." || req.MaxTokens != 32 {
		t.Errorf("unexpected request %+v", req)
	}
}
