package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"deepgram"},
	"clip":      {"whisper"},
	"translate": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Defaults filled in by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultServiceName   = "glyphcap"
	DefaultPublishTopic  = "glyphcap.captions"
	DefaultFallbackModel = "nova-2"
)

// maxLangLen mirrors the limit applied to subscriber language strings.
const maxLangLen = 35

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a process-wide default. Tuning
// values left at zero are defaulted by the packages that consume them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.STT.Mode == "" {
		cfg.STT.Mode = STTModeStream
	}
	if cfg.STT.DefaultLanguage == "" {
		cfg.STT.DefaultLanguage = stt.LanguageAuto
	}
	if cfg.STT.FallbackModel == "" && cfg.Providers.STT.Name == "deepgram" {
		cfg.STT.FallbackModel = DefaultFallbackModel
	}
	if cfg.Publish.Topic == "" && len(cfg.Publish.Brokers) > 0 {
		cfg.Publish.Topic = DefaultPublishTopic
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Discord
	if cfg.Discord.Token != "" && cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required when discord.token is set"))
	}
	if cfg.Discord.AutoJoin && cfg.Discord.VoiceChannelID == "" {
		errs = append(errs, errors.New("discord.voice_channel_id is required when discord.auto_join is set"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("clip", cfg.Providers.Clip.Name)
	validateProviderName("translate", cfg.Providers.Translate.Name)
	validateProviderName("translate", cfg.Providers.Cleanup.Name)
	for i, fb := range cfg.Providers.TranslateFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.translate_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("translate", fb.Name)
	}
	if len(cfg.Providers.TranslateFallbacks) > 0 && cfg.Providers.Translate.Name == "" {
		errs = append(errs, errors.New("providers.translate_fallbacks requires providers.translate"))
	}

	// STT
	if cfg.STT.Mode != "" && !cfg.STT.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("stt.mode %q is invalid; valid values: stream, clip", cfg.STT.Mode))
	}
	switch cfg.STT.Mode {
	case STTModeStream:
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("stt.mode stream requires providers.stt"))
		}
	case STTModeClip:
		if cfg.Providers.Clip.Name == "" {
			errs = append(errs, errors.New("stt.mode clip requires providers.clip"))
		}
	}
	if cfg.STT.DefaultLanguage != "" {
		if _, ok := stt.NormalizeLanguage(cfg.STT.DefaultLanguage); !ok {
			errs = append(errs, fmt.Errorf("stt.default_language %q is invalid", cfg.STT.DefaultLanguage))
		}
	}
	if cfg.STT.MinConnectBytes < 0 {
		errs = append(errs, fmt.Errorf("stt.min_connect_bytes %d must not be negative", cfg.STT.MinConnectBytes))
	}
	errs = appendNegative(errs, "stt.reopen_debounce", cfg.STT.ReopenDebounce)
	errs = appendNegative(errs, "stt.endpointing", cfg.STT.Endpointing)
	errs = appendNegative(errs, "stt.idle_grace", cfg.STT.IdleGrace)
	errs = appendNegative(errs, "stt.keepalive", cfg.STT.KeepAlive)
	errs = appendNegative(errs, "stt.switch_timeout", cfg.STT.SwitchTimeout)
	for i, kw := range cfg.STT.Keywords {
		if kw.Word == "" {
			errs = append(errs, fmt.Errorf("stt.keywords[%d].word is required", i))
		}
	}

	// Chunker
	errs = appendNegative(errs, "chunker.min_duration", cfg.Chunker.MinDuration)
	errs = appendNegative(errs, "chunker.max_duration", cfg.Chunker.MaxDuration)
	errs = appendNegative(errs, "chunker.pre_roll", cfg.Chunker.PreRoll)
	if cfg.Chunker.MinDuration > 0 && cfg.Chunker.MaxDuration > 0 && cfg.Chunker.MinDuration > cfg.Chunker.MaxDuration {
		errs = append(errs, fmt.Errorf("chunker.min_duration %s exceeds chunker.max_duration %s", cfg.Chunker.MinDuration, cfg.Chunker.MaxDuration))
	}

	// Captions
	if cfg.Captions.MaxRowsPerPage < 0 || cfg.Captions.MaxHistoryPages < 0 || cfg.Captions.WidthPx < 0 || cfg.Captions.CharWidthPx < 0 {
		errs = append(errs, errors.New("captions sizes must not be negative"))
	}
	errs = appendNegative(errs, "captions.idle_clear", cfg.Captions.IdleClear)
	errs = appendNegative(errs, "captions.tick_interval", cfg.Captions.TickInterval)

	// Broadcast
	if len(cfg.Broadcast.TargetLang) > maxLangLen {
		errs = append(errs, fmt.Errorf("broadcast.target_lang is longer than %d characters", maxLangLen))
	}
	if len(cfg.Broadcast.LangHint) > maxLangLen {
		errs = append(errs, fmt.Errorf("broadcast.lang_hint is longer than %d characters", maxLangLen))
	}
	errs = appendNegative(errs, "broadcast.translate_timeout", cfg.Broadcast.TranslateTimeout)
	errs = appendNegative(errs, "broadcast.interim_debounce", cfg.Broadcast.InterimDebounce)
	errs = appendNegative(errs, "broadcast.roster_debounce", cfg.Broadcast.RosterDebounce)
	if cfg.Broadcast.QueueSize < 0 || cfg.Broadcast.BreakerFailures < 0 {
		errs = append(errs, errors.New("broadcast.queue_size and broadcast.breaker_failures must not be negative"))
	}
	if cfg.Broadcast.Translate && cfg.Providers.Translate.Name == "" {
		slog.Warn("broadcast.translate is on but providers.translate is not configured; captions will stay untranslated")
	}

	// Cleanup
	errs = appendNegative(errs, "cleanup.timeout", cfg.Cleanup.Timeout)
	if cfg.Cleanup.Enabled && cfg.Providers.Cleanup.Name == "" && cfg.Providers.Translate.Name == "" {
		errs = append(errs, errors.New("cleanup.enabled requires providers.cleanup or providers.translate"))
	}

	// Roster
	errs = appendNegative(errs, "roster.ttl", cfg.Roster.TTL)
	seen := make(map[string]int, len(cfg.Roster.Speakers))
	for i, sp := range cfg.Roster.Speakers {
		prefix := fmt.Sprintf("roster.speakers[%d]", i)
		if sp.UserID == "" {
			errs = append(errs, fmt.Errorf("%s.user_id is required", prefix))
		} else {
			if prev, ok := seen[sp.UserID]; ok {
				errs = append(errs, fmt.Errorf("%s.user_id %q is a duplicate of roster.speakers[%d]", prefix, sp.UserID, prev))
			}
			seen[sp.UserID] = i
		}
		if sp.PinnedLang != "" {
			if _, ok := stt.NormalizeLanguage(sp.PinnedLang); !ok {
				errs = append(errs, fmt.Errorf("%s.pinned_lang %q is invalid", prefix, sp.PinnedLang))
			}
		}
	}

	// Publish
	if len(cfg.Publish.Brokers) > 0 && cfg.Publish.Topic == "" {
		errs = append(errs, errors.New("publish.topic is required when publish.brokers is set"))
	}

	// Archive
	if cfg.Archive.Driver != "" {
		if !cfg.Archive.Driver.IsValid() {
			errs = append(errs, fmt.Errorf("archive.driver %q is invalid; valid values: postgres, sqlite", cfg.Archive.Driver))
		}
		if cfg.Archive.DSN == "" {
			errs = append(errs, errors.New("archive.dsn is required when archive.driver is set"))
		}
	}

	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s must not be negative", field))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
