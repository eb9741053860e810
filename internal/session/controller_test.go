package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/casecoach/internal/prompt"
	"github.com/MrWong99/casecoach/internal/scenario"
	"github.com/MrWong99/casecoach/internal/session"
	"github.com/MrWong99/casecoach/internal/transcript"
	"github.com/MrWong99/casecoach/pkg/audio"
	audiomock "github.com/MrWong99/casecoach/pkg/audio/mock"
	"github.com/MrWong99/casecoach/pkg/provider/live"
	livemock "github.com/MrWong99/casecoach/pkg/provider/live/mock"
)

type fixture struct {
	provider *livemock.Provider
	sess     *livemock.Session
	device   *audiomock.Device
	in       *audiomock.Input
	out      *audiomock.Output
	stream   *audiomock.Stream
	ctrl     *session.Controller
	reader   *sdkmetric.ManualReader

	mu       sync.Mutex
	closes   []error
	segments []transcript.Segment
	audio    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sess:   livemock.NewSession(),
		in:     &audiomock.Input{},
		out:    &audiomock.Output{},
		stream: &audiomock.Stream{},
	}
	f.provider = &livemock.Provider{
		Session:              f.sess,
		ProviderCapabilities: live.Capabilities{Name: "mock-live", OutputSampleRate: audio.OutputSampleRate},
	}
	f.device = &audiomock.Device{InputResult: f.in, OutputResult: f.out, StreamResult: f.stream}
	m, reader := newMetrics(t)
	f.reader = reader
	f.ctrl = session.NewController(f.provider, f.device, session.WithMetrics(m))
	return f
}

func (f *fixture) callbacks() session.Callbacks {
	return session.Callbacks{
		OnAudio: func(*audio.Buffer) {
			f.mu.Lock()
			f.audio++
			f.mu.Unlock()
		},
		OnTranscript: func(s []transcript.Segment) {
			f.mu.Lock()
			f.segments = s
			f.mu.Unlock()
		},
		OnClose: func(err error) {
			f.mu.Lock()
			f.closes = append(f.closes, err)
			f.mu.Unlock()
		},
	}
}

func (f *fixture) closeCalls() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.closes...)
}

func (f *fixture) lastSegments() []transcript.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.segments
}

func (f *fixture) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio
}

func sizeOne(t *testing.T) scenario.Scenario {
	t.Helper()
	lib, err := scenario.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	s, err := lib.Get("size-1")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// speech returns a base64 chunk of n silent 24 kHz samples.
func speech(n int) live.Event {
	return live.Event{Type: live.EventAudio, Audio: audio.EncodeFrame(make([]float32, n))}
}

func frame() audio.Frame {
	return audio.Frame{Samples: make([]float32, audio.DefaultFrameSize), SampleRate: audio.InputSampleRate}
}

func TestConnect_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.Chinese, f.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = h.Disconnect() })

	if h.State() != session.StateConnected {
		t.Errorf("State = %v, want connected", h.State())
	}

	// Contexts at 16 kHz in, 24 kHz out; capture attached with 4096 frames.
	if len(f.device.InputCalls) != 1 || f.device.InputCalls[0].SampleRate != 16000 {
		t.Errorf("input calls = %+v", f.device.InputCalls)
	}
	if len(f.device.OutputCalls) != 1 || f.device.OutputCalls[0].SampleRate != 24000 {
		t.Errorf("output calls = %+v", f.device.OutputCalls)
	}
	if f.in.FrameSize != audio.DefaultFrameSize {
		t.Errorf("frame size = %d", f.in.FrameSize)
	}

	calls := f.provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("connect calls = %d", len(calls))
	}
	cfg := calls[0].Cfg
	if !strings.Contains(cfg.Instructions, "New Drug Revenue") || !strings.Contains(cfg.Instructions, "**Chinese**") {
		t.Error("instructions should carry the scenario and the language")
	}
	if !strings.Contains(cfg.Instructions, "Voice Call") {
		t.Error("instructions should use the voice style")
	}
	if cfg.Voice != session.DefaultVoice || !cfg.InputTranscription || !cfg.OutputTranscription {
		t.Errorf("cfg = %+v", cfg)
	}

	// Muted by default: nothing leaves the machine.
	if !h.Muted() {
		t.Fatal("handle should start muted")
	}
	f.in.Emit(frame())
	if h.FramesForwarded() != 0 {
		t.Error("muted frame was forwarded")
	}

	h.SetMuted(false)
	for range 3 {
		f.in.Emit(frame())
	}
	waitFor(t, "three sends", func() bool { return f.sess.Sends() == 3 })
	for _, c := range f.sess.Chunks() {
		if c.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("chunk MIME = %q", c.MIMEType)
		}
	}

	// Two speech chunks play back to back.
	f.out.SetNow(10 * time.Millisecond)
	f.sess.Emit(speech(2400))
	f.sess.Emit(speech(2400))
	waitFor(t, "two scheduled sources", func() bool { return h.ActiveSources() == 2 })
	plays := f.out.Calls()
	if plays[0].At != 10*time.Millisecond || plays[1].At != 110*time.Millisecond {
		t.Errorf("start positions = %v, %v; want 10ms, 110ms", plays[0].At, plays[1].At)
	}
	waitFor(t, "OnAudio", func() bool { return f.audioCount() == 2 })

	// Barge-in stops everything.
	f.sess.Emit(live.Event{Type: live.EventInterrupted})
	waitFor(t, "flush", func() bool { return h.ActiveSources() == 0 })
	for _, p := range plays {
		if p.Source.Stops() == 0 {
			t.Error("source was not stopped on interruption")
		}
	}

	// Transcript merge.
	f.sess.Emit(live.Event{Type: live.EventTranscript, Text: "市场规模", IsUser: true, Final: true})
	f.sess.Emit(live.Event{Type: live.EventTranscript, Text: "很好"})
	f.sess.Emit(live.Event{Type: live.EventTranscript, Text: "，继续"})
	f.sess.Emit(live.Event{Type: live.EventTurnComplete})
	waitFor(t, "final model segment", func() bool {
		segs := f.lastSegments()
		return len(segs) == 2 && segs[1].IsFinal
	})
	segs := h.Transcript()
	if segs[0].Text != "市场规模" || !segs[0].IsUser {
		t.Errorf("user segment = %+v", segs[0])
	}
	if segs[1].Text != "很好，继续" || segs[1].IsUser {
		t.Errorf("model segment = %+v", segs[1])
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.English, f.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	f.sess.Emit(speech(480))
	waitFor(t, "source", func() bool { return h.ActiveSources() == 1 })

	if err := h.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := h.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	closes := f.closeCalls()
	if len(closes) != 1 || closes[0] != nil {
		t.Fatalf("OnClose calls = %v, want one nil", closes)
	}
	if h.State() != session.StateDisconnected {
		t.Errorf("State = %v", h.State())
	}
	if f.in.Closes() != 1 || f.out.Closes() != 1 || f.stream.Stops() != 1 {
		t.Errorf("releases: input %d, output %d, stream %d; want 1 each", f.in.Closes(), f.out.Closes(), f.stream.Stops())
	}
	if f.sess.Closes() == 0 {
		t.Error("live session was not closed")
	}
	if h.ActiveSources() != 0 {
		t.Error("sources should be stopped on disconnect")
	}

	// Frames after teardown go nowhere.
	h.SetMuted(false)
	if f.in.Emit(frame()) {
		t.Error("input context should be closed")
	}

	// The synthesized terminal event must not fire OnClose again.
	time.Sleep(20 * time.Millisecond)
	if n := len(f.closeCalls()); n != 1 {
		t.Errorf("OnClose calls = %d, want 1", n)
	}
}

func TestRemoteError_ClosesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.English, f.callbacks())
	if err != nil {
		t.Fatal(err)
	}

	f.sess.Emit(live.Event{Type: live.EventError, Err: errors.New("socket reset")})
	waitFor(t, "OnClose", func() bool { return len(f.closeCalls()) == 1 })

	if err := f.closeCalls()[0]; !errors.Is(err, session.ErrConnection) {
		t.Errorf("OnClose err = %v, want ErrConnection", err)
	}
	if h.State() != session.StateError {
		t.Errorf("State = %v, want error", h.State())
	}
	if f.in.Closes() != 1 || f.stream.Stops() != 1 {
		t.Error("resources not released after remote error")
	}
	if err := h.Disconnect(); err != nil {
		t.Errorf("Disconnect after remote error: %v", err)
	}
	if n := len(f.closeCalls()); n != 1 {
		t.Errorf("OnClose calls = %d, want 1", n)
	}
}

func TestRemoteClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.English, f.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	f.sess.Emit(live.Event{Type: live.EventClosed})
	waitFor(t, "OnClose", func() bool { return len(f.closeCalls()) == 1 })
	if f.closeCalls()[0] != nil {
		t.Errorf("OnClose err = %v, want nil", f.closeCalls()[0])
	}
	if h.State() != session.StateDisconnected {
		t.Errorf("State = %v", h.State())
	}
}

func TestConnect_MicrophoneDenied(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.device.MicrophoneError = errors.New("NotAllowedError")

	_, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.English, f.callbacks())
	if !errors.Is(err, audio.ErrMicrophoneUnavailable) {
		t.Fatalf("err = %v, want ErrMicrophoneUnavailable", err)
	}
	if n := len(f.provider.Calls()); n != 0 {
		t.Errorf("provider dialled %d times before the microphone was granted", n)
	}
	if f.in.Closes() != 1 || f.out.Closes() != 1 {
		t.Errorf("contexts not released: input %d, output %d", f.in.Closes(), f.out.Closes())
	}
	if len(f.closeCalls()) != 0 {
		t.Error("OnClose must not fire for a failed connect")
	}
}

func TestConnect_ReleasesOnPartialFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      func(f *fixture)
		wantErr    error
		wantInput  int
		wantOutput int
		wantStream int
	}{
		{
			name:      "output context",
			setup:     func(f *fixture) { f.device.OpenOutputError = errors.New("no sink") },
			wantInput: 1,
		},
		{
			name:       "dial",
			setup:      func(f *fixture) { f.provider.ConnectErr = errors.New("dns failure") },
			wantErr:    session.ErrConnection,
			wantInput:  1,
			wantOutput: 1,
			wantStream: 1,
		},
		{
			name:       "capture attach",
			setup:      func(f *fixture) { f.in.AttachError = errors.New("track ended") },
			wantInput:  1,
			wantOutput: 1,
			wantStream: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			tc.setup(f)

			_, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.English, f.callbacks())
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if f.in.Closes() != tc.wantInput || f.out.Closes() != tc.wantOutput || f.stream.Stops() != tc.wantStream {
				t.Errorf("releases: input %d, output %d, stream %d; want %d, %d, %d",
					f.in.Closes(), f.out.Closes(), f.stream.Stops(), tc.wantInput, tc.wantOutput, tc.wantStream)
			}
		})
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ctrl.Connect(ctx, sizeOne(t), prompt.English, f.callbacks())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(f.provider.Calls()) != 0 {
		t.Error("cancelled connect should not dial")
	}
	if f.in.Closes() != 1 || f.out.Closes() != 1 || f.stream.Stops() != 1 {
		t.Error("cancelled connect should release what it acquired")
	}
}

func TestConnect_CancelledDuringDial(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider.ConnectFunc = func(context.Context, live.SessionConfig) (live.Session, error) {
		cancel()
		return f.sess, nil
	}

	_, err := f.ctrl.Connect(ctx, sizeOne(t), prompt.English, f.callbacks())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if f.sess.Closes() == 0 {
		t.Error("live session dialled under a cancelled context was not closed")
	}
	if f.in.Closes() != 1 || f.out.Closes() != 1 || f.stream.Stops() != 1 {
		t.Errorf("releases: input %d, output %d, stream %d; want 1 each", f.in.Closes(), f.out.Closes(), f.stream.Stops())
	}
	if len(f.closeCalls()) != 0 {
		t.Error("OnClose must not fire for a failed connect")
	}
}

func TestDisconnect_ReleasesIndependently(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.English, f.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	errIn := errors.New("input busy")
	errOut := errors.New("output busy")
	errStream := errors.New("track stuck")
	f.in.CloseError = errIn
	f.out.CloseError = errOut
	f.stream.StopError = errStream

	err = h.Disconnect()
	for _, want := range []error{errIn, errOut, errStream} {
		if !errors.Is(err, want) {
			t.Errorf("Disconnect err = %v, want it to wrap %v", err, want)
		}
	}
	if f.in.Closes() != 1 || f.out.Closes() != 1 || f.stream.Stops() != 1 {
		t.Errorf("releases: input %d, output %d, stream %d; want 1 each", f.in.Closes(), f.out.Closes(), f.stream.Stops())
	}
	if f.sess.Closes() == 0 {
		t.Error("live session was not closed")
	}
	if closes := f.closeCalls(); len(closes) != 1 {
		t.Errorf("OnClose calls = %d, want 1", len(closes))
	}
}

func TestAudio_UndecodableChunkIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h, err := f.ctrl.Connect(context.Background(), sizeOne(t), prompt.English, f.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Disconnect() })

	f.sess.Emit(live.Event{Type: live.EventAudio, Audio: audio.Chunk{Data: "%%not base64%%", MIMEType: "audio/pcm;rate=24000"}})
	f.sess.Emit(speech(480))
	waitFor(t, "good chunk scheduled", func() bool { return h.ActiveSources() == 1 })

	if h.State() != session.StateConnected {
		t.Errorf("State = %v, want connected", h.State())
	}
	if n := counter(t, f.reader, "casecoach.live.decode_errors", "", ""); n != 1 {
		t.Errorf("decode errors = %d, want 1", n)
	}
	if len(f.closeCalls()) != 0 {
		t.Error("a bad chunk must not end the session")
	}
}
