package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged is true when any per-session timing or the default
	// language changed. New sessions pick up the new values.
	ConversationChanged bool
	Conversation        ConversationConfig

	MaxSessionsChanged bool
	NewMaxSessions     int

	// RestartRequired lists the changed sections that only apply after a
	// restart (listener, providers, proxy, memory).
	RestartRequired []string
}

// Empty reports whether the diff carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ConversationChanged && !d.MaxSessionsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Conversation != new.Conversation {
		d.ConversationChanged = true
		d.Conversation = new.Conversation
	}
	if old.Server.MaxSessions != new.Server.MaxSessions {
		d.MaxSessionsChanged = true
		d.NewMaxSessions = new.Server.MaxSessions
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Proxy != new.Proxy {
		d.RestartRequired = append(d.RestartRequired, "proxy")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Chat, b.Chat) &&
		entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.STT, b.STT) &&
		slices.EqualFunc(a.FallbackChat, b.FallbackChat, entryEqual) &&
		slices.EqualFunc(a.FallbackTTS, b.FallbackTTS, entryEqual)
}

// entryEqual compares the scalar fields and the string form of the options.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
