package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/glyphcap/internal/config"
	"github.com/MrWong99/glyphcap/pkg/provider/llm"
	llmmock "github.com/MrWong99/glyphcap/pkg/provider/llm/mock"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
	sttmock "github.com/MrWong99/glyphcap/pkg/provider/stt/mock"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "minimal stream",
			yaml: "providers:\n  stt:\n    name: deepgram\n",
		},
		{
			name: "minimal clip",
			yaml: "stt:\n  mode: clip\nproviders:\n  clip:\n    name: whisper\n    base_url: http://localhost:8081\n",
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "stream without provider",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"requires providers.stt"},
		},
		{
			name:    "clip without provider",
			yaml:    "stt:\n  mode: clip\n",
			wantErr: []string{"requires providers.clip"},
		},
		{
			name:    "bad mode",
			yaml:    "stt:\n  mode: batch\n",
			wantErr: []string{"stt.mode"},
		},
		{
			name:    "bad default language",
			yaml:    "stt:\n  default_language: english\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"stt.default_language"},
		},
		{
			name:    "negative duration",
			yaml:    "stt:\n  endpointing: -1s\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"stt.endpointing"},
		},
		{
			name:    "chunker min above max",
			yaml:    "chunker:\n  min_duration: 2s\n  max_duration: 1s\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"exceeds chunker.max_duration"},
		},
		{
			name:    "cleanup without llm",
			yaml:    "cleanup:\n  enabled: true\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"cleanup.enabled"},
		},
		{
			name:    "archive without dsn",
			yaml:    "archive:\n  driver: sqlite\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"archive.dsn"},
		},
		{
			name:    "bad archive driver",
			yaml:    "archive:\n  driver: mongodb\n  dsn: x\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"archive.driver"},
		},
		{
			name:    "discord without guild",
			yaml:    "discord:\n  token: abc\nproviders:\n  stt:\n    name: deepgram\n",
			wantErr: []string{"discord.guild_id"},
		},
		{
			name: "roster problems are all reported",
			yaml: `
providers:
  stt:
    name: deepgram
roster:
  speakers:
    - user_id: "1"
    - user_id: "1"
    - username: nobody
    - user_id: "2"
      pinned_lang: klingon
`,
			wantErr: []string{"duplicate", "roster.speakers[2].user_id is required", "pinned_lang"},
		},
		{
			name:    "fallbacks without primary",
			yaml:    "providers:\n  stt:\n    name: deepgram\n  translate_fallbacks:\n    - name: ollama\n",
			wantErr: []string{"requires providers.translate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should contain %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		if e.APIKey == "" {
			return nil, errors.New("missing key")
		}
		return &sttmock.Provider{}, nil
	})
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "k"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err == nil || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT without key: got %v, want the factory's error", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"}); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"stt", func() error { _, err := reg.CreateSTT(config.ProviderEntry{Name: "azure"}); return err }},
		{"clip", func() error { _, err := reg.CreateClip(config.ProviderEntry{Name: "whisper"}); return err }},
		{"llm", func() error { _, err := reg.CreateLLM(config.ProviderEntry{Name: "ollama"}); return err }},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v, want ErrProviderNotRegistered", tt.name, err)
		}
	}

	// Registered factories are usable for real calls.
	p, _ := reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "k"})
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err != nil {
		t.Errorf("StartStream: %v", err)
	}
}
