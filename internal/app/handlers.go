package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MrWong99/casecoach/internal/chat"
	"github.com/MrWong99/casecoach/internal/observe"
	"github.com/MrWong99/casecoach/internal/prompt"
	"github.com/MrWong99/casecoach/internal/scenario"
	llmchat "github.com/MrWong99/casecoach/pkg/provider/chat"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

func (a *App) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/scenarios", a.handleListScenarios)
	mux.HandleFunc("GET /api/scenarios/{id}", a.handleGetScenario)

	mux.HandleFunc("POST /api/chat", a.handleStartChat)
	mux.HandleFunc("GET /api/chat/{id}/messages", a.handleChatHistory)
	mux.HandleFunc("POST /api/chat/{id}/messages", a.handleSendChat)
	mux.HandleFunc("DELETE /api/chat/{id}", a.handleEndChat)

	mux.HandleFunc("GET /api/live", a.handleListLive)
	mux.HandleFunc("GET /ws/live", a.handleLive)
}

// ─── Scenarios ───────────────────────────────────────────────────────────────

func (a *App) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	list := a.library.Search(r.URL.Query().Get("q"))
	if c := scenario.Category(r.URL.Query().Get("category")); c != "" {
		filtered := list[:0:0]
		for _, s := range list {
			if s.Category == c {
				filtered = append(filtered, s)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": list})
}

func (a *App) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	s, err := a.library.Get(r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ─── Text interviews ─────────────────────────────────────────────────────────

type startChatRequest struct {
	ScenarioID string `json:"scenario_id"`
	Language   string `json:"language"`
}

type startChatResponse struct {
	ID       string            `json:"id"`
	Greeting string            `json:"greeting"`
	Scenario scenario.Scenario `json:"scenario"`
	Language prompt.Language   `json:"language"`
}

func (a *App) handleStartChat(w http.ResponseWriter, r *http.Request) {
	if a.chat == nil {
		a.writeError(w, r, fmt.Errorf("%w: chat", ErrProviderUnavailable))
		return
	}
	var req startChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	lang, err := prompt.ParseLanguage(req.Language)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}

	iv, greeting, err := a.chat.Start(r.Context(), req.ScenarioID, lang)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startChatResponse{
		ID:       iv.ID,
		Greeting: greeting,
		Scenario: iv.Scenario,
		Language: iv.Language,
	})
}

func (a *App) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if a.chat == nil {
		a.writeError(w, r, fmt.Errorf("%w: chat", ErrProviderUnavailable))
		return
	}
	iv, err := a.chat.Get(r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	history := iv.History()
	if history == nil {
		history = []llmchat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

type sendChatRequest struct {
	Text string `json:"text"`
}

// handleSendChat streams the interviewer's reply as server-sent events: one
// "message" event per fragment, then "done", or "error" if the model failed
// mid-stream.
func (a *App) handleSendChat(w http.ResponseWriter, r *http.Request) {
	if a.chat == nil {
		a.writeError(w, r, fmt.Errorf("%w: chat", ErrProviderUnavailable))
		return
	}
	var req sendChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(errors.New("text is required")))
		return
	}

	seq, err := a.chat.Send(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for frag, err := range seq {
		if err != nil {
			observe.Logger(r.Context()).Warn("chat stream failed", "interview_id", r.PathValue("id"), "err", err)
			writeEvent(w, "error", errorBody(err))
			_ = rc.Flush()
			return
		}
		writeEvent(w, "message", map[string]string{"text": frag})
		_ = rc.Flush()
	}
	writeEvent(w, "done", struct{}{})
	_ = rc.Flush()
}

func (a *App) handleEndChat(w http.ResponseWriter, r *http.Request) {
	if a.chat == nil {
		a.writeError(w, r, fmt.Errorf("%w: chat", ErrProviderUnavailable))
		return
	}
	if err := a.chat.End(r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Live sessions ───────────────────────────────────────────────────────────

func (a *App) handleListLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.sessions.List()})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scenario.ErrNotFound), errors.Is(err, chat.ErrNotFound), errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// genericFailure replaces upstream error details in 5xx responses. The
// details are logged with the request's trace id, which the body carries.
const genericFailure = "could not start the interview, check connectivity and configuration"

func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		writeJSON(w, status, errorBody(err))
		return
	}
	observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	body := map[string]string{"error": genericFailure}
	if id := observe.CorrelationID(r.Context()); id != "" {
		body["trace_id"] = id
	}
	writeJSON(w, status, body)
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEvent writes one server-sent event with a JSON payload.
func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(strconv.Quote(err.Error()))
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
