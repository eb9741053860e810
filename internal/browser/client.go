// Package browser bridges a browser tab to the voice pipeline over a single
// WebSocket.
//
// The tab streams raw microphone PCM as binary messages and sends small JSON
// control messages. The server answers with JSON messages carrying scheduled
// speech, state changes and transcript snapshots. [Client] exposes the tab as
// an [audio.Device] so the session controller can drive it like local
// hardware.
//
// Wire protocol, client to server:
//
//	binary                                 PCM16 LE mono at the negotiated rate,
//	                                       at most DefaultReadLimit bytes each
//	{"type":"microphone","granted":true}   answer to a microphone request
//	{"type":"mute","muted":true}
//	{"type":"hangup"}
//
// Server to client:
//
//	{"type":"microphone_request"}
//	{"type":"microphone_release"}
//	{"type":"audio","id":3,"at_ms":1200,"rate":24000,"data":"<base64>"}
//	{"type":"stop","id":3}
//	{"type":"state","state":"connected"}
//	{"type":"transcript","segments":[...]}
//	{"type":"closed","error":"..."}
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/casecoach/internal/transcript"
	"github.com/MrWong99/casecoach/pkg/audio"
)

// DefaultMicrophoneTimeout bounds how long Microphone waits for the tab to
// answer a permission request.
const DefaultMicrophoneTimeout = 10 * time.Second

// DefaultReadLimit caps one inbound message: about 10 s of PCM16 at 48 kHz.
const DefaultReadLimit = 1 << 20

// writeTimeout bounds a single outbound message.
const writeTimeout = 5 * time.Second

// ErrClosed is returned by operations on a closed bridge or context.
var ErrClosed = errors.New("browser: closed")

var _ audio.Device = (*Client)(nil)

// Message is the JSON envelope used in both directions.
type Message struct {
	Type     string               `json:"type"`
	Granted  bool                 `json:"granted,omitempty"`
	Muted    bool                 `json:"muted,omitempty"`
	ID       uint64               `json:"id,omitempty"`
	AtMS     int64                `json:"at_ms,omitempty"`
	Rate     int                  `json:"rate,omitempty"`
	Data     string               `json:"data,omitempty"`
	State    string               `json:"state,omitempty"`
	Segments []transcript.Segment `json:"segments,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Option configures a [Client].
type Option func(*Client)

// WithInputRate declares the sample rate of the tab's binary PCM. Audio is
// resampled to the rate the input context was opened with.
func WithInputRate(rate int) Option {
	return func(c *Client) {
		if rate > 0 {
			c.inputRate = rate
		}
	}
}

// WithMicrophoneTimeout overrides [DefaultMicrophoneTimeout].
func WithMicrophoneTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.micTimeout = d
		}
	}
}

// WithReadLimit caps the size of one inbound message in bytes. It defaults
// to [DefaultReadLimit].
func WithReadLimit(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client is one connected browser tab. Start [Client.Run] before using the
// client as a device; all other methods are safe for concurrent use.
type Client struct {
	conn       *websocket.Conn
	inputRate  int
	micTimeout time.Duration
	readLimit  int64
	log        *slog.Logger

	mic  chan bool
	done chan struct{}

	closeOnce sync.Once

	mu       sync.Mutex
	input    *inputContext
	onMute   func(bool)
	onHangup func()
}

// NewClient wraps an accepted WebSocket connection.
func NewClient(conn *websocket.Conn, opts ...Option) *Client {
	c := &Client{
		conn:       conn,
		inputRate:  audio.InputSampleRate,
		micTimeout: DefaultMicrophoneTimeout,
		readLimit:  DefaultReadLimit,
		log:        slog.Default(),
		mic:        make(chan bool, 1),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	conn.SetReadLimit(c.readLimit)
	return c
}

// OnControl registers the handlers for mute and hangup requests. Either may
// be nil.
func (c *Client) OnControl(mute func(bool), hangup func()) {
	c.mu.Lock()
	c.onMute, c.onHangup = mute, hangup
	c.mu.Unlock()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Run reads from the tab until ctx is done or the connection fails. It
// returns nil on a normal close.
func (c *Client) Run(ctx context.Context) error {
	defer c.markDone()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("browser: read: %w", err)
		}
		if typ == websocket.MessageBinary {
			c.handlePCM(data)
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("browser: ignoring malformed message", "err", err)
			continue
		}
		c.handleControl(msg)
	}
}

func (c *Client) handleControl(msg Message) {
	c.mu.Lock()
	mute, hangup := c.onMute, c.onHangup
	c.mu.Unlock()

	switch msg.Type {
	case "microphone":
		select {
		case c.mic <- msg.Granted:
		default:
		}
	case "mute":
		if mute != nil {
			mute(msg.Muted)
		}
	case "hangup":
		if hangup != nil {
			hangup()
		}
	default:
		c.log.Debug("browser: unknown message type", "type", msg.Type)
	}
}

func (c *Client) handlePCM(pcm []byte) {
	c.mu.Lock()
	in := c.input
	c.mu.Unlock()
	if in == nil {
		return
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	samples, err := audio.DecodePCM16(audio.ResampleMono16(pcm, c.inputRate, in.rate))
	if err != nil {
		c.log.Debug("browser: dropping undecodable pcm", "err", err)
		return
	}
	in.push(samples)
}

func (c *Client) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Send writes msg as a JSON text message.
func (c *Client) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("browser: encode %s: %w", msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("browser: write %s: %w", msg.Type, err)
	}
	return nil
}

// notify sends msg and only logs failures. Used from callbacks that have no
// error path.
func (c *Client) notify(msg Message) {
	if err := c.Send(context.Background(), msg); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Debug("browser: notify failed", "type", msg.Type, "err", err)
	}
}

// SendState pushes a session state change.
func (c *Client) SendState(state string) {
	c.notify(Message{Type: "state", State: state})
}

// SendTranscript pushes a transcript snapshot.
func (c *Client) SendTranscript(segments []transcript.Segment) {
	c.notify(Message{Type: "transcript", Segments: segments})
}

// SendClosed tells the tab the session ended. err is nil after a clean end.
func (c *Client) SendClosed(err error) {
	msg := Message{Type: "closed"}
	if err != nil {
		msg.Error = err.Error()
	}
	c.notify(msg)
}

// Close closes the connection with the given reason.
func (c *Client) Close(reason string) error {
	defer c.markDone()
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// Microphone asks the tab for microphone access and waits for its answer.
func (c *Client) Microphone(ctx context.Context) (audio.Stream, error) {
	// Discard a stale answer from an earlier request.
	select {
	case <-c.mic:
	default:
	}
	if err := c.Send(ctx, Message{Type: "microphone_request"}); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrMicrophoneUnavailable, err)
	}

	timer := time.NewTimer(c.micTimeout)
	defer timer.Stop()
	select {
	case granted := <-c.mic:
		if !granted {
			return nil, fmt.Errorf("%w: permission denied", audio.ErrMicrophoneUnavailable)
		}
		return &stream{client: c}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer within %s", audio.ErrMicrophoneUnavailable, c.micTimeout)
	case <-c.done:
		return nil, fmt.Errorf("%w: %w", audio.ErrMicrophoneUnavailable, ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stream is a granted microphone. Stopping it tells the tab to release its
// tracks.
type stream struct {
	client *Client
	once   sync.Once
}

func (s *stream) Stop() error {
	s.once.Do(func() { s.client.notify(Message{Type: "microphone_release"}) })
	return nil
}

// OpenInput returns an input context delivering frames at sampleRate.
func (c *Client) OpenInput(_ context.Context, sampleRate int) (audio.Input, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	return &inputContext{client: c, rate: sampleRate}, nil
}

// OpenOutput returns an output context whose clock starts now.
func (c *Client) OpenOutput(_ context.Context, sampleRate int) (audio.Output, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	return &outputContext{
		client:  c,
		rate:    sampleRate,
		start:   time.Now(),
		sources: make(map[uint64]*source),
	}, nil
}
