package config_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/casecoach/internal/config"
	"github.com/MrWong99/casecoach/pkg/provider/chat"
	chatmock "github.com/MrWong99/casecoach/pkg/provider/chat/mock"
	"github.com/MrWong99/casecoach/pkg/provider/live"
	livemock "github.com/MrWong99/casecoach/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["coach.example.com"]

providers:
  live:
    name: gemini-live
    api_key: g-test
    model: gemini-2.5-flash-native-audio-preview-09-2025
    options:
      voice: Fenrir
  chat:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    options:
      temperature: 0.7

live:
  frame_size: 2048
  send_queue: 8
  microphone_timeout: 5s

chat:
  idle_timeout: 15m

scenarios:
  file: /etc/casecoach/cases.yaml
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.Live.StringOption("voice") != "Fenrir" {
		t.Errorf("providers.live.options.voice: got %q", cfg.Providers.Live.StringOption("voice"))
	}
	if temp, ok := cfg.Providers.Chat.FloatOption("temperature"); !ok || temp != 0.7 {
		t.Errorf("providers.chat.options.temperature: got %v, %v", temp, ok)
	}
	if cfg.Live.FrameSize != 2048 || cfg.Live.SendQueue != 8 {
		t.Errorf("live: got %+v", cfg.Live)
	}
	if cfg.Live.MicrophoneTimeout != 5*time.Second {
		t.Errorf("live.microphone_timeout: got %s", cfg.Live.MicrophoneTimeout)
	}
	if cfg.Chat.IdleTimeout != 15*time.Minute {
		t.Errorf("chat.idle_timeout: got %s", cfg.Chat.IdleTimeout)
	}
	if cfg.Chat.OpeningMessage != config.DefaultOpeningMessage {
		t.Errorf("chat.opening_message should default, got %q", cfg.Chat.OpeningMessage)
	}
	if cfg.Scenarios.File != "/etc/casecoach/cases.yaml" {
		t.Errorf("scenarios.file: got %q", cfg.Scenarios.File)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
		}
		if cfg.Server.LogLevel != config.LogInfo {
			t.Errorf("log_level: got %q", cfg.Server.LogLevel)
		}
		if cfg.Live.FrameSize != config.DefaultFrameSize || cfg.Live.SendQueue != config.DefaultSendQueue {
			t.Errorf("live defaults: got %+v", cfg.Live)
		}
		if cfg.Chat.IdleTimeout != config.DefaultIdleTimeout {
			t.Errorf("chat.idle_timeout: got %s", cfg.Chat.IdleTimeout)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.SlogLevel(); got != want {
			t.Errorf("%q.SlogLevel() = %v, want %v", in, got, want)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_CreateLive(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &livemock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLive("gemini-live", func(e config.ProviderEntry) (live.Provider, error) {
		gotEntry = e
		return want, nil
	})

	p, err := reg.CreateLive(config.ProviderEntry{Name: "gemini-live", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if p != want || gotEntry.APIKey != "k" {
		t.Errorf("factory not invoked with the entry: %+v", gotEntry)
	}

	_, err = reg.CreateLive(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_CreateChat(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("bad key")
	reg.RegisterChat("openai", func(context.Context, config.ProviderEntry) (chat.Provider, error) {
		return &chatmock.Provider{}, nil
	})
	reg.RegisterChat("broken", func(context.Context, config.ProviderEntry) (chat.Provider, error) {
		return nil, boom
	})

	if _, err := reg.CreateChat(context.Background(), config.ProviderEntry{Name: "openai"}); err != nil {
		t.Errorf("CreateChat(openai): %v", err)
	}
	if _, err := reg.CreateChat(context.Background(), config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("factory error not propagated: %v", err)
	}
	if _, err := reg.CreateChat(context.Background(), config.ProviderEntry{Name: "x"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if got := reg.ChatNames(); len(got) != 2 || got[0] != "broken" || got[1] != "openai" {
		t.Errorf("ChatNames = %v", got)
	}
	if got := reg.LiveNames(); len(got) != 0 {
		t.Errorf("LiveNames = %v", got)
	}
}
