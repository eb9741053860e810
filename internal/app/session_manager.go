package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/casecoach/internal/prompt"
	"github.com/MrWong99/casecoach/internal/scenario"
	"github.com/MrWong99/casecoach/internal/session"
	"github.com/MrWong99/casecoach/pkg/audio"
	"github.com/MrWong99/casecoach/pkg/provider/live"
)

var (
	// ErrSessionActive is returned when a client already has a live session.
	ErrSessionActive = errors.New("app: a live session is already active for this client")

	// ErrNoSession is returned when a client has no live session.
	ErrNoSession = errors.New("app: no active live session")

	// ErrProviderUnavailable is returned when the needed model provider is not
	// configured.
	ErrProviderUnavailable = errors.New("app: provider not configured")
)

// SessionInfo holds metadata about an active live session.
type SessionInfo struct {
	SessionID  string          `json:"session_id"`
	Client     string          `json:"client"`
	ScenarioID string          `json:"scenario_id"`
	Language   prompt.Language `json:"language"`
	StartedAt  time.Time       `json:"started_at"`
}

// StartRequest describes a live session to start.
type StartRequest struct {
	// Client identifies the browser. Each client may run one session.
	Client     string
	ScenarioID string
	Language   prompt.Language

	// Device is the client's audio bridge.
	Device audio.Device

	// Callbacks receive session output. OnClose is invoked after the session
	// was removed from the manager.
	Callbacks session.Callbacks
}

type liveEntry struct {
	info   SessionInfo
	handle *session.Handle
}

// SessionManager tracks live voice sessions, one per client.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	provider live.Provider
	library  *scenario.Library
	opts     []session.Option
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*liveEntry
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Provider is the live model. A nil provider makes Start fail with
	// [ErrProviderUnavailable].
	Provider live.Provider
	Library  *scenario.Library

	// ControllerOptions are applied to every session controller.
	ControllerOptions []session.Option

	Logger *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		provider: cfg.Provider,
		library:  cfg.Library,
		opts:     cfg.ControllerOptions,
		log:      log,
		now:      time.Now,
		active:   make(map[string]*liveEntry),
	}
}

// Start connects a live session for req.Client. It blocks until the session
// is connected or setup failed.
func (sm *SessionManager) Start(ctx context.Context, req StartRequest) (*session.Handle, error) {
	if sm.provider == nil {
		return nil, fmt.Errorf("%w: live", ErrProviderUnavailable)
	}
	sc, err := sm.library.Get(req.ScenarioID)
	if err != nil {
		return nil, err
	}

	entry := &liveEntry{info: SessionInfo{
		Client:     req.Client,
		ScenarioID: sc.ID,
		Language:   req.Language,
		StartedAt:  sm.now(),
	}}
	sm.mu.Lock()
	if _, busy := sm.active[req.Client]; busy {
		sm.mu.Unlock()
		return nil, ErrSessionActive
	}
	sm.active[req.Client] = entry
	sm.mu.Unlock()

	cb := req.Callbacks
	onClose := cb.OnClose
	cb.OnClose = func(err error) {
		sm.remove(req.Client, entry)
		if onClose != nil {
			onClose(err)
		}
	}

	ctrl := session.NewController(sm.provider, req.Device, sm.opts...)
	h, err := ctrl.Connect(ctx, sc, req.Language, cb)
	if err != nil {
		sm.remove(req.Client, entry)
		return nil, err
	}

	sm.mu.Lock()
	entry.handle = h
	entry.info.SessionID = h.ID()
	sm.mu.Unlock()

	sm.log.Info("live session started",
		"session_id", h.ID(),
		"client", req.Client,
		"scenario_id", sc.ID,
		"language", string(req.Language),
	)
	return h, nil
}

// remove drops entry if it is still the client's current session.
func (sm *SessionManager) remove(client string, entry *liveEntry) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active[client] == entry {
		delete(sm.active, client)
	}
}

// Stop disconnects the client's session.
func (sm *SessionManager) Stop(client string) error {
	sm.mu.Lock()
	entry, ok := sm.active[client]
	var h *session.Handle
	if ok {
		h = entry.handle
	}
	sm.mu.Unlock()
	if h == nil {
		return ErrNoSession
	}
	return h.Disconnect()
}

// StopAll disconnects every session and joins their errors.
func (sm *SessionManager) StopAll() error {
	sm.mu.Lock()
	handles := make([]*session.Handle, 0, len(sm.active))
	for _, e := range sm.active {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
	}
	sm.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", h.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// IsActive reports whether client has a session, including one still
// connecting.
func (sm *SessionManager) IsActive(client string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.active[client]
	return ok
}

// Len returns the number of sessions, including ones still connecting.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}

// List returns metadata of all connected sessions, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.active))
	for _, e := range sm.active {
		if e.handle != nil {
			out = append(out, e.info)
		}
	}
	sm.mu.Unlock()
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Client, b.Client)
	})
	return out
}
