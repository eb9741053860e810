package browser

import (
	"errors"
	"sync"

	"github.com/MrWong99/casecoach/pkg/audio"
)

// inputContext re-frames the tab's PCM into fixed-size frames.
type inputContext struct {
	client *Client
	rate   int

	mu       sync.Mutex
	reframer *audio.Reframer
	fn       func(audio.Frame)
	closed   bool
}

func (in *inputContext) Attach(stream audio.Stream, frameSize int, fn func(audio.Frame)) error {
	if stream == nil || fn == nil {
		return errors.New("browser: attach requires a stream and a callback")
	}
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return ErrClosed
	}
	in.reframer = &audio.Reframer{Size: frameSize, SampleRate: in.rate}
	in.fn = fn
	in.mu.Unlock()

	in.client.mu.Lock()
	in.client.input = in
	in.client.mu.Unlock()
	return nil
}

// push is called from the client's read goroutine, so frames are delivered
// sequentially.
func (in *inputContext) push(samples []float32) {
	in.mu.Lock()
	r, fn, closed := in.reframer, in.fn, in.closed
	in.mu.Unlock()
	if closed || r == nil {
		return
	}
	r.Push(samples, fn)
}

func (in *inputContext) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	if in.reframer != nil {
		in.reframer.Reset()
	}
	in.mu.Unlock()

	in.client.mu.Lock()
	if in.client.input == in {
		in.client.input = nil
	}
	in.client.mu.Unlock()
	return nil
}
