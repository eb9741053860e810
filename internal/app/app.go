// Package app wires the casecoach subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New assembles the scenario library,
// the text interview service and the live session manager, Run serves HTTP
// until the context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithMetricsHandler) and mock providers in [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/casecoach/internal/chat"
	"github.com/MrWong99/casecoach/internal/config"
	"github.com/MrWong99/casecoach/internal/health"
	"github.com/MrWong99/casecoach/internal/observe"
	"github.com/MrWong99/casecoach/internal/scenario"
	"github.com/MrWong99/casecoach/internal/session"
	llmchat "github.com/MrWong99/casecoach/pkg/provider/chat"
	"github.com/MrWong99/casecoach/pkg/provider/live"
)

// shutdownGrace bounds HTTP shutdown when Run's context ends.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Live live.Provider
	Chat llmchat.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	library   *scenario.Library

	chat     *chat.Service
	sessions *SessionManager
	health   *health.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler
	log            *slog.Logger
	level          *slog.LevelVar

	handlerOnce sync.Once
	handler     http.Handler

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the Prometheus handler served on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads adjust the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. library is shared with the config watcher, which may
// swap its contents at runtime.
func New(cfg *config.Config, library *scenario.Library, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil || library == nil {
		return nil, errors.New("app: config and scenario library are required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		library:   library,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── Text interviews ─────────────────────────────────────────────────
	if providers.Chat != nil {
		chatOpts := []chat.Option{
			chat.WithLogger(a.log),
			chat.WithMetrics(a.metrics),
			chat.WithIdleTimeout(cfg.Chat.IdleTimeout),
			chat.WithOpeningMessage(cfg.Chat.OpeningMessage),
		}
		if t, ok := cfg.Providers.Chat.FloatOption("temperature"); ok {
			chatOpts = append(chatOpts, chat.WithTemperature(t))
		}
		a.chat = chat.NewService(providers.Chat, library, chatOpts...)
	}

	// ── Voice interviews ────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Provider: providers.Live,
		Library:  library,
		Logger:   a.log,
		ControllerOptions: []session.Option{
			session.WithLogger(a.log),
			session.WithMetrics(a.metrics),
			session.WithFrameSize(cfg.Live.FrameSize),
			session.WithSendQueueSize(cfg.Live.SendQueue),
			session.WithVoice(cfg.Providers.Live.StringOption("voice")),
		},
	})

	// ── Health ──────────────────────────────────────────────────────────
	a.health = health.New(
		health.NonEmpty("scenarios", library),
		health.Configured("live_provider", cfg.Providers.Live.Name),
		health.Configured("chat_provider", cfg.Providers.Chat.Name),
	)

	a.log.Info("app initialised",
		"scenarios", library.Len(),
		"live", providers.Live != nil,
		"chat", providers.Chat != nil,
	)
	return a, nil
}

// Sessions returns the live session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Chat returns the text interview service, or nil without a chat provider.
func (a *App) Chat() *chat.Service { return a.chat }

// Handler returns the HTTP handler serving the API, the live WebSocket and
// the operational endpoints.
func (a *App) Handler() http.Handler {
	a.handlerOnce.Do(func() {
		mux := http.NewServeMux()
		a.routes(mux)
		a.health.Register(mux)
		mux.Handle("GET /metrics", a.metricsHandler)
		a.handler = observe.Middleware(a.metrics)(mux)
	})
	return a.handler
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on cfg.Server.ListenAddr and runs background work until ctx
// is cancelled. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return a.Shutdown(shutdownCtx, srv)
	})
	if a.chat != nil {
		g.Go(func() error { return a.chat.Run(gctx) })
	}
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects live sessions and stops srv (which may be nil). Only
// the first call has an effect.
func (a *App) Shutdown(ctx context.Context, srv *http.Server) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "live_sessions", a.sessions.Len())

		if err := a.sessions.StopAll(); err != nil {
			a.log.Warn("live session teardown error", "err", err)
		}
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("app: http shutdown: %w", err)
				return
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a changed configuration: the log
// level and the scenario catalogue. Other changes are logged as requiring a
// restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}

	lib, err := scenario.LoadFile(new.Scenarios.File)
	if err != nil {
		a.log.Warn("scenario reload failed; keeping current catalogue", "file", new.Scenarios.File, "err", err)
	} else {
		a.library.Replace(lib)
		a.log.Info("scenario catalogue reloaded", "file", new.Scenarios.File, "scenarios", a.library.Len())
	}

	restart := d.RestartRequired
	if d.ChatChanged {
		restart = append(restart, "chat")
	}
	for _, section := range restart {
		a.log.Warn("config change requires a restart", "section", section)
	}
}
