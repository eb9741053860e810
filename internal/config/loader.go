package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live": {"gemini-live", "openai-realtime"},
	"chat": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)
	errs = append(errs, validateFallbacks("live", cfg.Providers.Live, cfg.Providers.LiveFallbacks)...)
	errs = append(errs, validateFallbacks("chat", cfg.Providers.Chat, cfg.Providers.ChatFallbacks)...)
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must be positive"))
	}
	if cfg.Providers.Live.Name == "" && cfg.Providers.Chat.Name == "" {
		slog.Warn("no live or chat provider configured; interviews cannot be started")
	}
	if t, ok := cfg.Providers.Chat.FloatOption("temperature"); ok && (t < 0 || t > 2) {
		errs = append(errs, fmt.Errorf("providers.chat.options.temperature %.2f is out of range [0, 2]", t))
	}

	if cfg.Live.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("live.frame_size %d must be positive", cfg.Live.FrameSize))
	}
	if cfg.Live.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("live.send_queue %d must be positive", cfg.Live.SendQueue))
	}
	if cfg.Live.MicrophoneTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.microphone_timeout %s must be positive", cfg.Live.MicrophoneTimeout))
	}
	if cfg.Chat.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("chat.idle_timeout %s must be positive", cfg.Chat.IdleTimeout))
	}

	return errors.Join(errs...)
}

// validateFallbacks checks the fallback list of one provider kind. Fallbacks
// without a primary are rejected.
func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	if len(fallbacks) == 0 {
		return nil
	}
	var errs []error
	if primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
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
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
