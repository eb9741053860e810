package browser

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/casecoach/pkg/audio"
)

// outputContext forwards scheduled buffers to the tab. Its clock is the wall
// time elapsed since it was opened; the tab plays each buffer at_ms after its
// own context start.
type outputContext struct {
	client *Client
	rate   int
	start  time.Time

	mu      sync.Mutex
	nextID  uint64
	sources map[uint64]*source
	closed  bool
}

func (o *outputContext) Now() time.Duration { return time.Since(o.start) }

func (o *outputContext) Play(buf *audio.Buffer, at time.Duration) (audio.Source, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.nextID++
	id := o.nextID
	src := &source{out: o, id: id, done: make(chan struct{})}
	o.sources[id] = src
	o.mu.Unlock()

	at = max(at, o.Now())
	err := o.client.Send(context.Background(), Message{
		Type: "audio",
		ID:   id,
		AtMS: at.Milliseconds(),
		Rate: buf.SampleRate,
		Data: audio.BytesToBase64(audio.EncodePCM16(mono(buf))),
	})
	if err != nil {
		src.finish()
		return nil, err
	}
	src.mu.Lock()
	src.timer = time.AfterFunc(at+buf.Duration()-o.Now(), func() { src.finish() })
	src.mu.Unlock()
	return src, nil
}

func (o *outputContext) forget(id uint64) {
	o.mu.Lock()
	delete(o.sources, id)
	o.mu.Unlock()
}

func (o *outputContext) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	active := make([]*source, 0, len(o.sources))
	for _, s := range o.sources {
		active = append(active, s)
	}
	o.mu.Unlock()

	for _, s := range active {
		_ = s.Stop()
	}
	return nil
}

// mono returns the first channel of buf.
func mono(buf *audio.Buffer) []float32 {
	if buf.Channels <= 1 {
		return buf.Samples
	}
	out := make([]float32, buf.Frames())
	for i := range out {
		out[i] = buf.Samples[i*buf.Channels]
	}
	return out
}

type source struct {
	out *outputContext
	id  uint64

	mu    sync.Mutex
	timer *time.Timer

	once sync.Once
	done chan struct{}
}

// finish marks the source ended and reports whether this call ended it.
func (s *source) finish() bool {
	ended := false
	s.once.Do(func() {
		ended = true
		close(s.done)
		s.out.forget(s.id)
	})
	return ended
}

func (s *source) Stop() error {
	if !s.finish() {
		return nil
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.out.client.notify(Message{Type: "stop", ID: s.id})
	return nil
}

func (s *source) Done() <-chan struct{} { return s.done }
