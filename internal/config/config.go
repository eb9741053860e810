// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the casecoach server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
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

// SlogLevel maps l onto a slog level. Unknown and empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Live      LiveConfig      `yaml:"live"`
	Chat      ChatConfig      `yaml:"chat"`
	Scenarios ScenariosConfig `yaml:"scenarios"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists extra origin host patterns accepted on the live
	// WebSocket endpoint. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the model backends. Each entry names a provider
// registered in the [Registry].
type ProvidersConfig struct {
	// Live is the real-time voice model used by voice interviews.
	Live ProviderEntry `yaml:"live"`

	// Chat is the text model used by text interviews.
	Chat ProviderEntry `yaml:"chat"`

	// LiveFallbacks and ChatFallbacks are tried in order when the primary
	// fails to connect or its circuit breaker is open.
	LiveFallbacks []ProviderEntry `yaml:"live_fallbacks"`
	ChatFallbacks []ProviderEntry `yaml:"chat_fallbacks"`

	// CircuitBreaker tunes the breaker guarding every provider entry.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes provider circuit breakers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens a breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects calls before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above, such as
	// "voice" for live providers or "temperature" for chat providers.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] if it is a non-empty string.
func (e ProviderEntry) StringOption(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// FloatOption returns Options[key] as a float64 if it holds a number.
func (e ProviderEntry) FloatOption(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// LiveConfig tunes voice interviews.
type LiveConfig struct {
	// FrameSize is the number of microphone samples per streamed frame.
	FrameSize int `yaml:"frame_size"`

	// SendQueue is the capacity of the outbound frame queue.
	SendQueue int `yaml:"send_queue"`

	// MicrophoneTimeout bounds the wait for the browser's permission answer.
	MicrophoneTimeout time.Duration `yaml:"microphone_timeout"`
}

// ChatConfig tunes text interviews.
type ChatConfig struct {
	// IdleTimeout is how long an untouched text interview is kept.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// OpeningMessage is sent on the candidate's behalf to start the case.
	OpeningMessage string `yaml:"opening_message"`
}

// ScenariosConfig selects the case catalogue.
type ScenariosConfig struct {
	// File is a YAML catalogue. Empty selects the built-in one.
	File string `yaml:"file"`
}

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultFrameSize         = 4096
	DefaultSendQueue         = 32
	DefaultMicrophoneTimeout = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultOpeningMessage    = "Hello. Ready to start."
	DefaultBreakerFailures   = 5
	DefaultBreakerReset      = 30 * time.Second
)

// ApplyDefaults fills unset fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Live.FrameSize == 0 {
		cfg.Live.FrameSize = DefaultFrameSize
	}
	if cfg.Live.SendQueue == 0 {
		cfg.Live.SendQueue = DefaultSendQueue
	}
	if cfg.Live.MicrophoneTimeout == 0 {
		cfg.Live.MicrophoneTimeout = DefaultMicrophoneTimeout
	}
	if cfg.Chat.IdleTimeout == 0 {
		cfg.Chat.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Chat.OpeningMessage == "" {
		cfg.Chat.OpeningMessage = DefaultOpeningMessage
	}
	if cfg.Providers.CircuitBreaker.MaxFailures == 0 {
		cfg.Providers.CircuitBreaker.MaxFailures = DefaultBreakerFailures
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout == 0 {
		cfg.Providers.CircuitBreaker.ResetTimeout = DefaultBreakerReset
	}
}
