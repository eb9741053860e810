package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScenariosChanged is set when the catalogue file path changed. The
	// watcher also reloads the catalogue when only the file's contents change.
	ScenariosChanged bool

	// ChatChanged is set when text interview tuning changed. The chat service
	// picks it up on the next restart.
	ChatChanged bool

	// RestartRequired lists changed sections that only take effect after a
	// restart, such as the listen address or provider credentials.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ScenariosChanged = old.Scenarios != new.Scenarios
	d.ChatChanged = old.Chat != new.Chat

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if !entryEqual(old.Providers.Live, new.Providers.Live) {
		d.RestartRequired = append(d.RestartRequired, "providers.live")
	}
	if !entryEqual(old.Providers.Chat, new.Providers.Chat) {
		d.RestartRequired = append(d.RestartRequired, "providers.chat")
	}
	if !slices.EqualFunc(old.Providers.LiveFallbacks, new.Providers.LiveFallbacks, entryEqual) {
		d.RestartRequired = append(d.RestartRequired, "providers.live_fallbacks")
	}
	if !slices.EqualFunc(old.Providers.ChatFallbacks, new.Providers.ChatFallbacks, entryEqual) {
		d.RestartRequired = append(d.RestartRequired, "providers.chat_fallbacks")
	}
	if old.Providers.CircuitBreaker != new.Providers.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "providers.circuit_breaker")
	}
	if old.Live != new.Live {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	return d
}

// entryEqual compares the scalar fields of two provider entries and their
// options by key and formatted value.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !sameValue(v, w) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) (eq bool) {
	defer func() {
		// Uncomparable values (nested maps) count as changed.
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
