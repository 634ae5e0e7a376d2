package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/glyphcap/internal/app"
	"github.com/MrWong99/glyphcap/internal/config"
	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/resilience"
	"github.com/MrWong99/glyphcap/internal/transcript/cleanup"
	"github.com/MrWong99/glyphcap/pkg/provider/llm"
	"github.com/MrWong99/glyphcap/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/glyphcap/pkg/provider/llm/openai"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
	"github.com/MrWong99/glyphcap/pkg/provider/stt/deepgram"
	"github.com/MrWong99/glyphcap/pkg/provider/stt/whisper"
	"github.com/MrWong99/glyphcap/pkg/provider/translate"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai talks to the API directly; every other backend goes through
	// any-llm-go with optional APIKey and BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if v, ok := entry.Options["smart_format"].(bool); ok {
			opts = append(opts, deepgram.WithSmartFormat(v))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterClip("whisper", func(entry config.ProviderEntry) (stt.ClipTranscriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms, ok := entry.Options["rms_threshold"].(float64); ok {
			opts = append(opts, whisper.WithRMSThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered providers",
		"llm", append([]string{"openai"}, slices.DeleteFunc(slices.Clone(anyllm.Backends), func(s string) bool { return s == "openai" })...),
		"stt", []string{"deepgram"},
		"clip", []string{"whisper"},
	)
}

// buildProviders instantiates every provider named in cfg and returns them
// for the application to consume. Translation and cleanup LLMs are wrapped
// in circuit-breaking fallback groups.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	switch cfg.STT.Mode {
	case config.STTModeClip:
		p, err := reg.CreateClip(cfg.Providers.Clip)
		if err != nil {
			return nil, fmt.Errorf("create clip provider %q: %w", cfg.Providers.Clip.Name, err)
		}
		ps.Clip = p
		slog.Info("provider created", "kind", "clip", "name", cfg.Providers.Clip.Name)
	default:
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	}

	breaker := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures: cfg.Broadcast.BreakerFailures,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}

	// ── Translation ───────────────────────────────────────────────────────────
	var translateLLM llm.Provider
	if entry := cfg.Providers.Translate; entry.Name != "" {
		p, err := createLLM(reg, entry)
		if err != nil {
			return nil, err
		}
		translateLLM = p

		fb := resilience.NewTranslateFallback(translate.NewLLM(p), entryName(entry), breaker)
		for _, fe := range cfg.Providers.TranslateFallbacks {
			fp, err := createLLM(reg, fe)
			if errors.Is(err, config.ErrProviderNotRegistered) {
				slog.Warn("translation fallback not registered, skipping", "name", fe.Name)
				continue
			}
			if err != nil {
				return nil, err
			}
			fb.AddFallback(entryName(fe), translate.NewLLM(fp))
		}
		ps.Translate = fb
		slog.Info("provider created", "kind", "translate", "backends", fb.Backends())
	}

	// ── Cleanup ───────────────────────────────────────────────────────────────
	if cfg.Cleanup.Enabled {
		var group *resilience.LLMFallback
		if entry := cfg.Providers.Cleanup; entry.Name != "" {
			p, err := createLLM(reg, entry)
			if err != nil {
				return nil, err
			}
			group = resilience.NewLLMFallback(p, entryName(entry), breaker)
			if translateLLM != nil {
				group.AddFallback(entryName(cfg.Providers.Translate), translateLLM)
			}
		} else if translateLLM != nil {
			group = resilience.NewLLMFallback(translateLLM, entryName(cfg.Providers.Translate), breaker)
		}

		if group == nil {
			slog.Warn("cleanup enabled but no LLM configured, skipping")
		} else {
			opts := []cleanup.Option{cleanup.WithVocabulary(cfg.Cleanup.Vocabulary)}
			if cfg.Cleanup.Timeout > 0 {
				opts = append(opts, cleanup.WithTimeout(cfg.Cleanup.Timeout))
			}
			ps.Cleanup = cleanup.New(group, opts...)
			slog.Info("provider created", "kind", "cleanup")
		}
	}

	return ps, nil
}

func createLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Provider, error) {
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	return p, nil
}

func entryName(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// optString extracts a string value from a provider Options map.
// Returns "" if the key is absent or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
