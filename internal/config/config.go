// Package config provides the configuration schema, loader, and provider
// registry for the glyphcap caption server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// STTMode selects how speech reaches the recogniser.
type STTMode string

const (
	// STTModeStream streams frames through per-speaker sockets.
	STTModeStream STTMode = "stream"

	// STTModeClip cuts bounded clips and transcribes each in one request.
	STTModeClip STTMode = "clip"
)

// IsValid reports whether m is a recognised mode.
func (m STTMode) IsValid() bool {
	return m == STTModeStream || m == STTModeClip
}

// ArchiveDriver selects the caption archive backend.
type ArchiveDriver string

const (
	ArchivePostgres ArchiveDriver = "postgres"
	ArchiveSQLite   ArchiveDriver = "sqlite"
)

// IsValid reports whether d is a recognised driver.
func (d ArchiveDriver) IsValid() bool {
	return d == ArchivePostgres || d == ArchiveSQLite
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Providers ProvidersConfig `yaml:"providers"`
	STT       STTConfig       `yaml:"stt"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Captions  CaptionsConfig  `yaml:"captions"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Roster    RosterConfig    `yaml:"roster"`
	Publish   PublishConfig   `yaml:"publish"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the subscriber, metrics and health
	// endpoints (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Applied live on reload.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins are host patterns accepted for subscriber sockets.
	// Empty allows same-origin requests only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DiscordConfig selects the bot and the voice channel to caption. An empty
// token disables Discord entirely.
type DiscordConfig struct {
	Token          string `yaml:"token"`
	GuildID        string `yaml:"guild_id"`
	VoiceChannelID string `yaml:"voice_channel_id"`

	// AutoJoin joins VoiceChannelID at startup instead of waiting for
	// /captions join.
	AutoJoin bool `yaml:"auto_join"`

	// ControlRoleID may join and leave channels. Empty allows everyone.
	ControlRoleID string `yaml:"control_role_id"`
}

// ProvidersConfig declares which implementation backs each external
// service. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// STT is the streaming recogniser, used in stream mode.
	STT ProviderEntry `yaml:"stt"`

	// Clip is the batch recogniser, used in clip mode.
	Clip ProviderEntry `yaml:"clip"`

	// Translate is the LLM used for caption translation. TranslateFallbacks
	// are tried in order when it fails.
	Translate          ProviderEntry   `yaml:"translate"`
	TranslateFallbacks []ProviderEntry `yaml:"translate_fallbacks"`

	// Cleanup is the LLM used for transcript cleanup. Empty reuses
	// Translate.
	Cleanup ProviderEntry `yaml:"cleanup"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// STTConfig tunes the per-speaker session manager.
type STTConfig struct {
	Mode STTMode `yaml:"mode"`

	// MinConnectBytes is the pending audio required before a socket opens.
	MinConnectBytes int `yaml:"min_connect_bytes"`

	ReopenDebounce time.Duration `yaml:"reopen_debounce"`
	Endpointing    time.Duration `yaml:"endpointing"`
	IdleGrace      time.Duration `yaml:"idle_grace"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	SwitchTimeout  time.Duration `yaml:"switch_timeout"`

	// DefaultLanguage applies to speakers without a pin ("auto" detects).
	DefaultLanguage string `yaml:"default_language"`

	// FallbackModel is used once after the provider rejects the primary
	// model. Empty disables fallback.
	FallbackModel string `yaml:"fallback_model"`

	// Keywords boost recognition of names and jargon.
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is one recognition boost.
type KeywordConfig struct {
	Word  string  `yaml:"word"`
	Boost float64 `yaml:"boost"`
}

// ChunkerConfig tunes clip cutting in clip mode.
type ChunkerConfig struct {
	MinDuration time.Duration `yaml:"min_duration"`
	MaxDuration time.Duration `yaml:"max_duration"`
	PreRoll     time.Duration `yaml:"pre_roll"`

	// OverlapTrim removes words repeated from the previous clip's tail.
	OverlapTrim *bool `yaml:"overlap_trim"`
}

// CaptionsConfig sizes the per-speaker caption lanes.
type CaptionsConfig struct {
	MaxRowsPerPage  int `yaml:"max_rows_per_page"`
	MaxHistoryPages int `yaml:"max_history_pages"`

	// WidthPx and CharWidthPx define the column budget of a row.
	WidthPx     int `yaml:"width_px"`
	CharWidthPx int `yaml:"char_width_px"`

	IdleClear time.Duration `yaml:"idle_clear"`

	// TickInterval is how often lanes promote stale interim text.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// BroadcastConfig holds subscriber defaults and translation timing.
// Translation defaults are applied live on reload.
type BroadcastConfig struct {
	Translate  bool   `yaml:"translate"`
	TargetLang string `yaml:"target_lang"`
	LangHint   string `yaml:"lang_hint"`

	TranslateTimeout time.Duration `yaml:"translate_timeout"`

	// InterimTranslate enables debounced translation of interim text.
	InterimTranslate bool          `yaml:"interim_translate"`
	InterimDebounce  time.Duration `yaml:"interim_debounce"`

	RosterDebounce time.Duration `yaml:"roster_debounce"`

	// QueueSize bounds each subscriber's outbound queue.
	QueueSize int `yaml:"queue_size"`

	// BreakerFailures opens the translation circuit after this many
	// consecutive failures.
	BreakerFailures int `yaml:"breaker_failures"`
}

// CleanupConfig controls final transcript correction.
type CleanupConfig struct {
	// Enabled turns on LLM cleanup. Vocabulary correction runs whenever a
	// vocabulary is configured.
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`

	Vocabulary []string `yaml:"vocabulary"`
}

// RosterConfig seeds and ages the speaker roster.
type RosterConfig struct {
	// TTL evicts speakers not heard from for this long.
	TTL time.Duration `yaml:"ttl"`

	Speakers []SpeakerConfig `yaml:"speakers"`
}

// SpeakerConfig pre-registers a speaker.
type SpeakerConfig struct {
	UserID     string `yaml:"user_id"`
	Username   string `yaml:"username"`
	Color      string `yaml:"color"`
	PinnedLang string `yaml:"pinned_lang"`
}

// PublishConfig selects the Kafka topic for finalized captions. No brokers
// means log-only.
type PublishConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ArchiveConfig selects the caption archive. An empty driver disables it.
type ArchiveConfig struct {
	Driver ArchiveDriver `yaml:"driver"`
	DSN    string        `yaml:"dsn"`
}

// ObserveConfig names the service in telemetry.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name"`
}
