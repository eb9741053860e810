// Package capture turns a live microphone stream into fixed-size frames and
// forwards the ones that pass the push-to-talk gate.
package capture

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/casecoach/pkg/audio"
)

// Handle reports on a running capture. Capture stops when the input context it
// was started on is closed; the handle has no Stop of its own.
type Handle struct {
	frameSize int
	forwarded atomic.Int64
	discarded atomic.Int64
}

// FrameSize returns the number of samples per frame.
func (h *Handle) FrameSize() int { return h.frameSize }

// Forwarded returns the number of frames handed to the consumer.
func (h *Handle) Forwarded() int64 { return h.forwarded.Load() }

// Discarded returns the number of frames dropped because the gate was muted.
func (h *Handle) Discarded() int64 { return h.discarded.Load() }

// Start attaches to stream through in and calls consume for every frame while
// muted reports false. Muted frames are discarded outright so no backlog builds
// up. frameSize defaults to [audio.DefaultFrameSize].
//
// muted is read once per frame, so toggling it affects subsequent frames only.
// consume runs on the input context's goroutine and must not block.
func Start(in audio.Input, stream audio.Stream, frameSize int, muted func() bool, consume func(audio.Frame)) (*Handle, error) {
	if in == nil || stream == nil {
		return nil, errors.New("capture: input and stream are required")
	}
	if consume == nil {
		return nil, errors.New("capture: consumer is required")
	}
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}
	if muted == nil {
		muted = func() bool { return false }
	}

	h := &Handle{frameSize: frameSize}
	err := in.Attach(stream, frameSize, func(f audio.Frame) {
		if muted() {
			h.discarded.Add(1)
			return
		}
		h.forwarded.Add(1)
		consume(f)
	})
	if err != nil {
		return nil, fmt.Errorf("capture: attach stream: %w", err)
	}
	return h, nil
}
