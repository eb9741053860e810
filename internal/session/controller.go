// Package session runs one real-time voice interview: it wires the
// microphone, the live provider, playback and the transcript together and
// tears all of it down again exactly once.
//
// [OpenTransport] is the network half. [Controller.Connect] builds the whole
// pipeline on top of it and returns a [Handle] that the caller keeps for the
// lifetime of the interview.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/casecoach/internal/observe"
	"github.com/MrWong99/casecoach/internal/prompt"
	"github.com/MrWong99/casecoach/internal/scenario"
	"github.com/MrWong99/casecoach/internal/transcript"
	"github.com/MrWong99/casecoach/pkg/audio"
	"github.com/MrWong99/casecoach/pkg/audio/capture"
	"github.com/MrWong99/casecoach/pkg/audio/playback"
	"github.com/MrWong99/casecoach/pkg/provider/live"
)

// ErrConnection is wrapped by every failure of the live connection, both at
// dial time and after the session was established.
var ErrConnection = errors.New("session: connection error")

// DefaultVoice is the prebuilt interviewer voice.
const DefaultVoice = "Fenrir"

// State is the lifecycle state of a [Handle].
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Callbacks receive session output. All are optional and are invoked from the
// transport's dispatch goroutine, one at a time.
type Callbacks struct {
	// OnAudio is called for every decoded speech buffer after it was scheduled.
	OnAudio func(*audio.Buffer)

	// OnTranscript receives a fresh snapshot after every transcript change.
	OnTranscript func([]transcript.Segment)

	// OnState is called on every state transition.
	OnState func(State)

	// OnClose is called exactly once when a connected session ends: nil after a
	// clean close or local disconnect, an error wrapping ErrConnection
	// otherwise.
	OnClose func(error)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithFrameSize sets the capture frame size in samples.
func WithFrameSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithSendQueueSize sets the outbound frame queue capacity.
func WithSendQueueSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.sendQueue = n
		}
	}
}

// WithVoice overrides [DefaultVoice].
func WithVoice(voice string) Option {
	return func(c *Controller) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// Controller opens voice interview sessions. It holds no per-session state;
// every Connect returns an independent [Handle].
type Controller struct {
	provider live.Provider
	device   audio.Device

	log       *slog.Logger
	metrics   *observe.Metrics
	frameSize int
	sendQueue int
	voice     string
}

// NewController returns a Controller that dials provider and uses device for
// microphone input and speech output.
func NewController(provider live.Provider, device audio.Device, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		device:    device,
		log:       slog.Default(),
		metrics:   observe.DefaultMetrics(),
		frameSize: audio.DefaultFrameSize,
		sendQueue: defaultSendQueue,
		voice:     DefaultVoice,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect builds a session for sc conducted in lang. Resources are acquired in
// order: input context (16 kHz), output context (24 kHz), microphone, live
// transport, capture. If any step fails, or ctx is cancelled, everything
// acquired so far is released before Connect returns. A microphone failure
// wraps [audio.ErrMicrophoneUnavailable] and happens before any network dial.
//
// The returned handle starts muted.
func (c *Controller) Connect(ctx context.Context, sc scenario.Scenario, lang prompt.Language, cb Callbacks) (*Handle, error) {
	if c.provider == nil || c.device == nil {
		return nil, errors.New("session: provider and device are required")
	}
	start := time.Now()

	h := &Handle{
		id:         uuid.NewString(),
		scenario:   sc,
		cb:         cb,
		metrics:    c.metrics,
		transcript: transcript.New(),
		outputRate: audio.OutputSampleRate,
	}
	h.log = observe.SessionLogger(ctx, h.id, sc.ID)
	h.muted.Store(true)
	if rate := c.provider.Capabilities().OutputSampleRate; rate > 0 {
		h.outputRate = rate
	}
	h.setState(StateConnecting)

	fail := func(err error) (*Handle, error) {
		if rerr := h.releases.run(); rerr != nil {
			h.log.Warn("session: release after failed connect", "err", rerr)
		}
		h.setState(StateError)
		return nil, err
	}

	in, err := c.device.OpenInput(ctx, audio.InputSampleRate)
	if err != nil {
		return fail(fmt.Errorf("session: open input context: %w", err))
	}
	h.releases.push("input context", in.Close)

	out, err := c.device.OpenOutput(ctx, audio.OutputSampleRate)
	if err != nil {
		return fail(fmt.Errorf("session: open output context: %w", err))
	}
	h.releases.push("output context", out.Close)

	stream, err := c.device.Microphone(ctx)
	if err != nil {
		if !errors.Is(err, audio.ErrMicrophoneUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrMicrophoneUnavailable, err)
		}
		return fail(err)
	}
	h.releases.push("microphone", stream.Stop)

	h.scheduler = playback.New(out, playback.WithLogger(h.log))
	h.releases.push("playback", h.scheduler.Close)

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("session: connect: %w", err))
	}

	cfg := live.SessionConfig{
		Instructions:        prompt.SystemInstruction(sc, lang, prompt.Voice),
		Voice:               c.voice,
		InputSampleRate:     audio.InputSampleRate,
		InputTranscription:  true,
		OutputTranscription: true,
	}
	tr, err := OpenTransport(ctx, c.provider, cfg, h.handleEvent,
		WithSendQueue(c.sendQueue),
		WithTransportLogger(h.log),
		WithTransportMetrics(c.metrics),
	)
	if err != nil {
		return fail(err)
	}
	h.transport = tr
	h.releases.push("transport", tr.Close)
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("session: connect: %w", err))
	}

	capt, err := capture.Start(in, stream, c.frameSize, h.muted.Load, h.sendFrame)
	if err != nil {
		return fail(fmt.Errorf("session: start capture: %w", err))
	}
	h.capture = capt
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("session: connect: %w", err))
	}

	// A terminal event may already have arrived while capture was starting.
	h.mu.Lock()
	early := h.early
	if early == nil {
		h.ready = true
		h.state.Store(int32(StateConnected))
		c.metrics.LiveSessions.Add(ctx, 1)
	}
	h.mu.Unlock()
	if early != nil {
		return fail(early)
	}

	c.metrics.LiveConnectDuration.Record(ctx, time.Since(start).Seconds())
	if h.cb.OnState != nil && h.State() == StateConnected {
		h.cb.OnState(StateConnected)
	}
	h.log.Info("live session connected", "provider", c.provider.Capabilities().Name, "language", string(lang))
	return h, nil
}

// Handle is one connected voice session.
type Handle struct {
	id         string
	scenario   scenario.Scenario
	cb         Callbacks
	log        *slog.Logger
	metrics    *observe.Metrics
	outputRate int

	muted      atomic.Bool
	state      atomic.Int32
	transcript *transcript.Aggregator
	scheduler  *playback.Scheduler
	transport  *Transport
	capture    *capture.Handle
	releases   releaseStack

	mu       sync.Mutex
	ready    bool
	early    error
	finished bool
}

// ID returns the session id.
func (h *Handle) ID() string { return h.id }

// Scenario returns the case being interviewed.
func (h *Handle) Scenario() scenario.Scenario { return h.scenario }

// SetMuted opens (false) or closes (true) the push-to-talk gate. It takes
// effect from the next captured frame.
func (h *Handle) SetMuted(muted bool) { h.muted.Store(muted) }

// Muted reports whether the microphone gate is closed.
func (h *Handle) Muted() bool { return h.muted.Load() }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Transcript returns a snapshot of the conversation so far.
func (h *Handle) Transcript() []transcript.Segment { return h.transcript.Snapshot() }

// ActiveSources returns the number of speech buffers pending or playing.
func (h *Handle) ActiveSources() int { return h.scheduler.Active() }

// FramesForwarded returns the number of captured frames passed to the
// transport.
func (h *Handle) FramesForwarded() int64 { return h.capture.Forwarded() }

// Disconnect ends the session and releases every resource. OnClose(nil) runs
// before Disconnect returns. Later calls return nil.
func (h *Handle) Disconnect() error {
	return h.finish(nil)
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
	if h.cb.OnState != nil {
		h.cb.OnState(s)
	}
}

// sendFrame runs on the capture goroutine for every unmuted frame.
func (h *Handle) sendFrame(f audio.Frame) {
	h.transport.Send(audio.EncodeFrame(f.Samples))
}

// handleEvent runs on the transport's dispatch goroutine.
func (h *Handle) handleEvent(ev live.Event) {
	switch ev.Type {
	case live.EventAudio:
		h.playAudio(ev.Audio)
	case live.EventTranscript:
		h.publish(h.transcript.Append(ev.Text, ev.IsUser, ev.Final))
	case live.EventTurnComplete:
		h.publish(h.transcript.Append("", false, true))
	case live.EventInterrupted:
		n := h.scheduler.Flush()
		h.metrics.Interruptions.Add(context.Background(), 1)
		h.log.Debug("session: interrupted, playback flushed", "sources", n)
	case live.EventClosed:
		h.remoteEnd(nil)
	case live.EventError:
		h.remoteEnd(fmt.Errorf("%w: %w", ErrConnection, ev.Err))
	}
}

func (h *Handle) playAudio(chunk audio.Chunk) {
	pcm, err := audio.Base64ToBytes(chunk.Data)
	var buf *audio.Buffer
	if err == nil {
		buf, err = audio.DecodeChunk(pcm, h.outputRate, 1)
	}
	if err != nil {
		h.metrics.DecodeErrors.Add(context.Background(), 1)
		h.log.Debug("session: dropped undecodable audio chunk", "err", err)
		return
	}
	if _, err := h.scheduler.Schedule(buf); err != nil {
		if !errors.Is(err, playback.ErrClosed) {
			h.log.Warn("session: schedule audio", "err", err)
		}
		return
	}
	h.metrics.AudioChunks.Add(context.Background(), 1)
	if h.cb.OnAudio != nil {
		h.cb.OnAudio(buf)
	}
}

func (h *Handle) publish(segs []transcript.Segment) {
	if h.cb.OnTranscript != nil {
		h.cb.OnTranscript(segs)
	}
}

// remoteEnd handles a terminal event. During Connect it is recorded for
// Connect to fail with; afterwards it finishes the session.
func (h *Handle) remoteEnd(err error) {
	h.mu.Lock()
	if !h.ready {
		if err == nil {
			err = fmt.Errorf("%w: session closed during setup", ErrConnection)
		}
		h.early = err
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	if rerr := h.finish(err); rerr != nil {
		h.log.Warn("session: release after remote close", "err", rerr)
	}
}

// finish releases everything and reports the end exactly once.
func (h *Handle) finish(cause error) error {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil
	}
	h.finished = true
	h.mu.Unlock()

	err := h.releases.run()
	h.metrics.LiveSessions.Add(context.Background(), -1)

	if cause != nil {
		h.setState(StateError)
		h.log.Warn("live session ended with error", "err", cause)
	} else {
		h.setState(StateDisconnected)
		h.log.Info("live session ended")
	}
	if h.cb.OnClose != nil {
		h.cb.OnClose(cause)
	}
	return err
}
