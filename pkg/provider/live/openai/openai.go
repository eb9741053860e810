// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The Realtime API expects 24 kHz PCM16 input, so 16 kHz microphone chunks are
// resampled before they are appended to the input buffer. Server VAD is left
// on: a detected start of user speech surfaces as [live.EventInterrupted] and
// response.done as [live.EventTurnComplete].
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/casecoach/pkg/audio"
	"github.com/MrWong99/casecoach/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultVoice   = "alloy"

	// apiSampleRate is the only PCM16 rate the Realtime API accepts.
	apiSampleRate = 24000

	transcriptionModel = "whisper-1"

	eventBuffer = 64
	readLimit   = 8 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithVoice sets the voice used when the session config leaves Voice empty.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		if voice != "" {
			p.voice = voice
		}
	}
}

// WithLogger sets the logger for non-fatal server errors.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	voice   string
	log     *slog.Logger
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		voice:   defaultVoice,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		Name:              "openai-realtime",
		OutputSampleRate:  apiSampleRate,
		MaxSessionMinutes: 30,
		Voices:            []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint, sends session.update and waits until
// the server confirms it with session.updated.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	inputRate := cfg.InputSampleRate
	if inputRate <= 0 {
		inputRate = audio.InputSampleRate
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		events:    make(chan live.Event, eventBuffer),
		inputRate: inputRate,
		log:       p.log,
		ctx:       sessCtx,
		cancel:    sessCancel,
	}

	if err := sess.writeJSON(ctx, p.sessionUpdate(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	if err := sess.awaitSessionUpdated(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusPolicyViolation, "session rejected")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// sessionUpdate builds the session.update event for cfg.
func (p *Provider) sessionUpdate(cfg live.SessionConfig) sessionUpdateMessage {
	voice := cfg.Voice
	if voice == "" {
		voice = p.voice
	}
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &inputTranscription{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *inputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d *serverErrorDetail) err() error {
	if d == nil || d.Message == "" {
		return errors.New("openai: server error: unknown error")
	}
	if d.Code != "" {
		return fmt.Errorf("openai: server error %s: %s", d.Code, d.Message)
	}
	return fmt.Errorf("openai: server error: %s", d.Message)
}

// recoverable reports whether the session survives this error. Request
// validation errors only reject the offending client event.
func (d *serverErrorDetail) recoverable() bool {
	return d != nil && d.Type == "invalid_request_error"
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	events    chan live.Event
	inputRate int
	log       *slog.Logger

	mu     sync.Mutex
	errVal error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// awaitSessionUpdated reads events until the server confirms the session
// configuration.
func (s *session) awaitSessionUpdated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			return evt.Error.err()
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and translates them. It owns the
// events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.emit(live.Event{Type: live.EventClosed})
				return
			}
			s.fail(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent translates one server event. It returns false once the
// session has ended.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(live.Event{
			Type:  live.EventAudio,
			Audio: audio.Chunk{Data: evt.Delta, MIMEType: audio.PCMMIMEType(apiSampleRate)},
		})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(live.Event{Type: live.EventTranscript, Text: evt.Delta})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return true
		}
		return s.emit(live.Event{Type: live.EventTranscript, Text: evt.Transcript, IsUser: true, Final: true})

	case "input_audio_buffer.speech_started":
		return s.emit(live.Event{Type: live.EventInterrupted})

	case "response.done":
		return s.emit(live.Event{Type: live.EventTurnComplete})

	case "error":
		if evt.Error.recoverable() {
			s.log.Warn("openai realtime: request rejected", "err", evt.Error.err())
			return true
		}
		s.fail(evt.Error.err())
		s.conn.Close(websocket.StatusNormalClosure, "server error")
		return false
	}
	return true
}

// emit delivers ev unless the session is being closed.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// fail records err and emits the terminal error event.
func (s *session) fail(err error) {
	s.setErr(err)
	s.emit(live.Event{Type: live.EventError, Err: err})
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// toAPIAudio converts a microphone chunk to base64 PCM16 at the API rate.
func (s *session) toAPIAudio(chunk audio.Chunk) (string, error) {
	rate := chunkRate(chunk.MIMEType, s.inputRate)
	if rate == apiSampleRate {
		return chunk.Data, nil
	}
	pcm, err := audio.Base64ToBytes(chunk.Data)
	if err != nil {
		return "", err
	}
	return audio.BytesToBase64(audio.ResampleMono16(pcm, rate, apiSampleRate)), nil
}

// chunkRate extracts the rate parameter from an "audio/pcm;rate=N" MIME type.
func chunkRate(mime string, fallback int) int {
	_, params, ok := strings.Cut(mime, ";rate=")
	if !ok {
		return fallback
	}
	rate, err := strconv.Atoi(params)
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// ── Session methods ───────────────────────────────────────────────────────────

// SendAudio appends one chunk to the server-side input buffer.
func (s *session) SendAudio(chunk audio.Chunk) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrSessionClosed
	}

	data, err := s.toAPIAudio(chunk)
	if err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	if err := s.writeJSON(s.ctx, appendAudioMessage{Type: "input_audio_buffer.append", Audio: data}); err != nil {
		if errors.Is(err, context.Canceled) {
			return live.ErrSessionClosed
		}
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// Events returns the channel on which server events arrive.
func (s *session) Events() <-chan live.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
