package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/MrWong99/casecoach/internal/browser"
	"github.com/MrWong99/casecoach/internal/observe"
	"github.com/MrWong99/casecoach/internal/prompt"
	"github.com/MrWong99/casecoach/internal/session"
	"github.com/MrWong99/casecoach/pkg/audio"
)

// handleLive runs one voice interview over a browser WebSocket:
//
//	GET /ws/live?scenario=size-1&language=en&client=<tab id>[&rate=48000]
//
// Request problems are answered with plain HTTP errors before the upgrade.
// Once upgraded, setup failures and the session end are reported with a
// "closed" message before the socket closes.
func (a *App) handleLive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	client := q.Get("client")
	if client == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(errors.New("client is required")))
		return
	}
	lang, err := prompt.ParseLanguage(q.Get("language"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	sc, err := a.library.Get(q.Get("scenario"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.providers.Live == nil {
		a.writeError(w, r, ErrProviderUnavailable)
		return
	}
	if a.sessions.IsActive(client) {
		a.writeError(w, r, ErrSessionActive)
		return
	}
	rate := audio.InputSampleRate
	if s := q.Get("rate"); s != "" {
		if rate, err = strconv.Atoi(s); err != nil || rate <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody(errors.New("rate must be a positive integer")))
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the response.
		return
	}

	ctx := r.Context()
	log := observe.Logger(ctx).With("client", client, "scenario_id", sc.ID)
	bc := browser.NewClient(conn,
		browser.WithInputRate(rate),
		browser.WithMicrophoneTimeout(a.cfg.Live.MicrophoneTimeout),
		browser.WithLogger(log),
	)
	runDone := make(chan error, 1)
	go func() { runDone <- bc.Run(ctx) }()

	closed := make(chan error, 1)
	h, err := a.sessions.Start(ctx, StartRequest{
		Client:     client,
		ScenarioID: sc.ID,
		Language:   lang,
		Device:     bc,
		Callbacks: session.Callbacks{
			OnState:      func(s session.State) { bc.SendState(s.String()) },
			OnTranscript: bc.SendTranscript,
			OnClose:      func(err error) { closed <- err },
		},
	})
	if err != nil {
		log.Warn("live session setup failed", "err", err)
		bc.SendClosed(publicError(err))
		_ = bc.Close("session setup failed")
		<-runDone
		return
	}
	bc.OnControl(h.SetMuted, func() { _ = h.Disconnect() })

	var cause error
	select {
	case cause = <-closed:
	case <-bc.Done():
		// The tab went away.
		_ = h.Disconnect()
		cause = <-closed
	}
	if cause != nil {
		log.Warn("live session ended with error", "err", cause)
	}
	bc.SendClosed(publicError(cause))
	_ = bc.Close("session ended")
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("browser bridge ended with error", "err", err)
	}
}

// publicError is what the tab is told about err. Microphone problems are the
// user's to fix; anything else is reported generically.
func publicError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrMicrophoneUnavailable):
		return errors.New("microphone unavailable, allow access and try again")
	case errors.Is(err, ErrSessionActive):
		return ErrSessionActive
	default:
		return errors.New(genericFailure)
	}
}
