// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Input], [audio.Output], [audio.Source] and [audio.Stream] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.Input{}
//	out := &mock.Output{}
//	dev := &mock.Device{InputResult: in, OutputResult: out, StreamResult: &mock.Stream{}}
//	// ... start the pipeline under test ...
//	in.Emit(audio.Frame{Samples: make([]float32, 4096), SampleRate: 16000})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/casecoach/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Input  = (*Input)(nil)
	_ audio.Output = (*Output)(nil)
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*Stream)(nil)
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream].
type Stream struct {
	mu sync.Mutex

	// StopError is returned by [Stream.Stop].
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Stop implements [audio.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return s.StopError
}

// Stops returns the number of Stop calls.
func (s *Stream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock [audio.Input]. Frames are delivered synchronously by
// [Input.Emit], which lets tests simulate the capture cadence deterministically.
type Input struct {
	mu sync.Mutex

	// AttachError is returned by [Input.Attach].
	AttachError error

	// CloseError is returned by [Input.Close].
	CloseError error

	// CallCountAttach records how many times Attach was called.
	CallCountAttach int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// FrameSize is the frameSize argument of the last Attach call.
	FrameSize int

	// AttachedStream is the stream argument of the last Attach call.
	AttachedStream audio.Stream

	fn     func(audio.Frame)
	closed bool
}

// Attach implements [audio.Input].
func (i *Input) Attach(stream audio.Stream, frameSize int, fn func(audio.Frame)) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CallCountAttach++
	if i.AttachError != nil {
		return i.AttachError
	}
	i.FrameSize = frameSize
	i.AttachedStream = stream
	i.fn = fn
	return nil
}

// Close implements [audio.Input]. After Close, Emit is a no-op.
func (i *Input) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CallCountClose++
	i.closed = true
	return i.CloseError
}

// Closes returns the number of Close calls.
func (i *Input) Closes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.CallCountClose
}

// Emit delivers f to the attached frame callback. It reports whether a callback
// was invoked (false before Attach or after Close).
func (i *Input) Emit(f audio.Frame) bool {
	i.mu.Lock()
	fn, closed := i.fn, i.closed
	i.mu.Unlock()
	if fn == nil || closed {
		return false
	}
	fn(f)
	return true
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Output.Play] invocation.
type PlayCall struct {
	// Buffer is the buffer passed to Play.
	Buffer *audio.Buffer

	// At is the requested start position.
	At time.Duration

	// Source is the source returned to the caller.
	Source *Source
}

// Output is a mock [audio.Output] with a manually driven clock.
type Output struct {
	mu sync.Mutex

	// PlayError is returned by [Output.Play].
	PlayError error

	// CloseError is returned by [Output.Close].
	CloseError error

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now time.Duration
}

// SetNow moves the output clock to d.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Play implements [audio.Output]. The returned source stays active until the
// test calls [Source.Finish] or the caller stops it.
func (o *Output) Play(buf *audio.Buffer, at time.Duration) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PlayError != nil {
		return nil, o.PlayError
	}
	src := NewSource()
	o.PlayCalls = append(o.PlayCalls, PlayCall{Buffer: buf, At: at, Source: src})
	return src, nil
}

// Close implements [audio.Output]. It stops every source handed out so far.
func (o *Output) Close() error {
	o.mu.Lock()
	o.CallCountClose++
	calls := make([]PlayCall, len(o.PlayCalls))
	copy(calls, o.PlayCalls)
	err := o.CloseError
	o.mu.Unlock()

	for _, c := range calls {
		_ = c.Source.Stop()
	}
	return err
}

// Calls returns a copy of the recorded Play invocations.
func (o *Output) Calls() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PlayCall, len(o.PlayCalls))
	copy(out, o.PlayCalls)
	return out
}

// Closes returns the number of Close calls.
func (o *Output) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source].
type Source struct {
	mu        sync.Mutex
	done      chan struct{}
	once      sync.Once
	stops     int
	finished  bool
	StopError error
}

// NewSource returns an active source.
func NewSource() *Source {
	return &Source{done: make(chan struct{})}
}

// Stop implements [audio.Source]. Repeated calls only count.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.stops++
	err := s.StopError
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return err
}

// Finish simulates natural end of playback.
func (s *Source) Finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Done implements [audio.Source].
func (s *Source) Done() <-chan struct{} { return s.done }

// Finished reports whether Finish was called.
func (s *Source) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Stops returns how many times Stop was called.
func (s *Source) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records a single OpenInput or OpenOutput invocation.
type OpenCall struct {
	// SampleRate is the requested context rate.
	SampleRate int
}

// Device is a mock [audio.Device].
type Device struct {
	mu sync.Mutex

	// InputResult is returned by OpenInput. A fresh [Input] is created when nil.
	InputResult *Input

	// OutputResult is returned by OpenOutput. A fresh [Output] is created when nil.
	OutputResult *Output

	// StreamResult is returned by Microphone. A fresh [Stream] is created when nil.
	StreamResult *Stream

	// OpenInputError is returned by OpenInput.
	OpenInputError error

	// OpenOutputError is returned by OpenOutput.
	OpenOutputError error

	// MicrophoneError is returned by Microphone.
	MicrophoneError error

	// InputCalls records all OpenInput invocations.
	InputCalls []OpenCall

	// OutputCalls records all OpenOutput invocations.
	OutputCalls []OpenCall

	// CallCountMicrophone records how many times Microphone was called.
	CallCountMicrophone int
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context, sampleRate int) (audio.Input, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputCalls = append(d.InputCalls, OpenCall{SampleRate: sampleRate})
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	if d.InputResult == nil {
		d.InputResult = &Input{}
	}
	return d.InputResult, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, sampleRate int) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputCalls = append(d.OutputCalls, OpenCall{SampleRate: sampleRate})
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	if d.OutputResult == nil {
		d.OutputResult = &Output{}
	}
	return d.OutputResult, nil
}

// Microphone implements [audio.Device].
func (d *Device) Microphone(_ context.Context) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountMicrophone++
	if d.MicrophoneError != nil {
		return nil, d.MicrophoneError
	}
	if d.StreamResult == nil {
		d.StreamResult = &Stream{}
	}
	return d.StreamResult, nil
}

// Microphones returns the number of Microphone calls.
func (d *Device) Microphones() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountMicrophone
}
