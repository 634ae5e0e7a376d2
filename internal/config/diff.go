package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DefaultsChanged is set when the subscriber translation defaults
	// (translate, target_lang, lang_hint) differ.
	DefaultsChanged bool

	// VocabularyChanged is set when cleanup.vocabulary differs.
	VocabularyChanged bool

	// RestartRequired lists top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ob, nb := old.Broadcast, new.Broadcast
	if ob.Translate != nb.Translate || ob.TargetLang != nb.TargetLang || ob.LangHint != nb.LangHint {
		d.DefaultsChanged = true
	}
	if !slices.Equal(old.Cleanup.Vocabulary, new.Cleanup.Vocabulary) {
		d.VocabularyChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.STT.Mode != new.STT.Mode || old.STT.DefaultLanguage != new.STT.DefaultLanguage || old.STT.FallbackModel != new.STT.FallbackModel {
		d.RestartRequired = append(d.RestartRequired, "stt")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	if !slices.Equal(old.Publish.Brokers, new.Publish.Brokers) || old.Publish.Topic != new.Publish.Topic {
		d.RestartRequired = append(d.RestartRequired, "publish")
	}
	return d
}

// Changed reports whether anything tracked differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DefaultsChanged || d.VocabularyChanged || len(d.RestartRequired) > 0
}

func providersEqual(a, b ProvidersConfig) bool {
	eq := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return eq(a.STT, b.STT) && eq(a.Clip, b.Clip) && eq(a.Translate, b.Translate) &&
		eq(a.Cleanup, b.Cleanup) && slices.EqualFunc(a.TranslateFallbacks, b.TranslateFallbacks, eq)
}
