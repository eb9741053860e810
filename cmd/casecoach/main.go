// Command casecoach is the main entry point for the case interview coach server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/casecoach/internal/app"
	"github.com/MrWong99/casecoach/internal/config"
	"github.com/MrWong99/casecoach/internal/observe"
	"github.com/MrWong99/casecoach/internal/resilience"
	"github.com/MrWong99/casecoach/internal/scenario"
	"github.com/MrWong99/casecoach/pkg/provider/chat"
	"github.com/MrWong99/casecoach/pkg/provider/chat/anyllm"
	"github.com/MrWong99/casecoach/pkg/provider/chat/genai"
	"github.com/MrWong99/casecoach/pkg/provider/live"
	geminilive "github.com/MrWong99/casecoach/pkg/provider/live/gemini"
	oailive "github.com/MrWong99/casecoach/pkg/provider/live/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	watchConfig := true
	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "casecoach: config file %q not found, using defaults\n", *configPath)
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		watchConfig = false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "casecoach: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("casecoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Scenario catalogue ────────────────────────────────────────────────────
	library, err := scenario.LoadFile(cfg.Scenarios.File)
	if err != nil {
		slog.Error("failed to load scenarios", "err", err)
		return 1
	}

	printStartupSummary(cfg, library.Len())

	application, err := app.New(cfg, library, providers,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watchConfig {
		var extra []config.WatcherOption
		if cfg.Scenarios.File != "" {
			extra = append(extra, config.WithExtraFiles(cfg.Scenarios.File))
		}
		extra = append(extra, config.WithWatcherLogger(logger))
		w, err := config.NewWatcher(*configPath, application.Reload, extra...)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the chat backends served through any-llm-go. ollama,
// llamacpp and llamafile are local servers and only need BaseURL.
var anyllmProviders = []string{
	"openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if v := entry.StringOption("voice"); v != "" {
			opts = append(opts, geminilive.WithVoice(v))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		opts := []oailive.Option{oailive.WithLogger(slog.Default())}
		if entry.Model != "" {
			opts = append(opts, oailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oailive.WithBaseURL(entry.BaseURL))
		}
		if v := entry.StringOption("voice"); v != "" {
			opts = append(opts, oailive.WithVoice(v))
		}
		return oailive.New(entry.APIKey, opts...), nil
	})

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("gemini", func(ctx context.Context, entry config.ProviderEntry) (chat.Provider, error) {
		var opts []genai.Option
		if entry.Model != "" {
			opts = append(opts, genai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(entry.BaseURL))
		}
		p, err := genai.New(ctx, entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterChat(providerName, func(_ context.Context, entry config.ProviderEntry) (chat.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
}

// buildProviders instantiates the configured providers. An empty name leaves
// the corresponding interview mode disabled. Every provider sits behind a
// circuit breaker; configured fallbacks are tried in order after it.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	cb := resilience.BreakerConfig{
		MaxFailures:  cfg.Providers.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.Providers.CircuitBreaker.ResetTimeout,
	}

	if name := cfg.Providers.Live.Name; name != "" {
		entries := append([]config.ProviderEntry{cfg.Providers.Live}, cfg.Providers.LiveFallbacks...)
		var g *resilience.Group[live.Provider]
		for _, e := range entries {
			p, err := reg.CreateLive(e)
			if err != nil {
				return nil, fmt.Errorf("create live provider %q: %w", e.Name, err)
			}
			if g == nil {
				g = resilience.NewGroup(e.Name, p, cb)
			} else {
				g.Add(e.Name, p)
			}
		}
		ps.Live = resilience.NewLiveFallback(g)
		slog.Info("provider created", "kind", "live", "chain", g.Names())
	} else {
		slog.Warn("no live provider configured, voice interviews disabled")
	}

	if name := cfg.Providers.Chat.Name; name != "" {
		entries := append([]config.ProviderEntry{cfg.Providers.Chat}, cfg.Providers.ChatFallbacks...)
		var g *resilience.Group[chat.Provider]
		for _, e := range entries {
			p, err := reg.CreateChat(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("create chat provider %q: %w", e.Name, err)
			}
			if g == nil {
				g = resilience.NewGroup(e.Name, p, cb)
			} else {
				g.Add(e.Name, p)
			}
		}
		ps.Chat = resilience.NewChatFallback(g)
		slog.Info("provider created", "kind", "chat", "chain", g.Names())
	} else {
		slog.Warn("no chat provider configured, text interviews disabled")
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, scenarios int) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        casecoach startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("Chat", cfg.Providers.Chat.Name, cfg.Providers.Chat.Model)
	fmt.Printf("║  Fallbacks       : %-19s ║\n", fmt.Sprintf("%d live, %d chat", len(cfg.Providers.LiveFallbacks), len(cfg.Providers.ChatFallbacks)))
	fmt.Printf("║  Scenarios       : %-19d ║\n", scenarios)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, fitColumn(value, 19))
}

// fitColumn shortens s to at most width runes, marking the cut with an ellipsis.
func fitColumn(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "…"
}
