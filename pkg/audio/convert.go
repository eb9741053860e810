package audio

import (
	"log/slog"
	"sync"
)

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Reframer slices an arbitrary stream of samples into frames of exactly Size
// samples. Devices whose transport delivers irregular chunk sizes use it to
// honour the fixed-frame contract of [Input.Attach].
//
// Reframer is safe for concurrent use, but Push invokes emit while holding its
// lock, so emit must not call back into the Reframer.
type Reframer struct {
	Size       int
	SampleRate int

	mu      sync.Mutex
	pending []float32
	warned  sync.Once
}

// Push appends samples and calls emit once for every complete frame. Leftover
// samples are kept for the next call.
func (r *Reframer) Push(samples []float32, emit func(Frame)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.Size
	if size <= 0 {
		size = DefaultFrameSize
	}
	r.pending = append(r.pending, samples...)
	for len(r.pending) >= size {
		frame := make([]float32, size)
		copy(frame, r.pending[:size])
		r.pending = r.pending[size:]
		emit(Frame{Samples: frame, SampleRate: r.SampleRate})
	}

	// Compact so the backing array does not grow without bound.
	if cap(r.pending) > 8*size {
		r.warned.Do(func() {
			slog.Debug("audio reframer: compacting pending buffer", "capacity", cap(r.pending), "frame_size", size)
		})
		r.pending = append(make([]float32, 0, size), r.pending...)
	}
}

// Pending returns the number of samples waiting for a complete frame.
func (r *Reframer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset discards any pending samples.
func (r *Reframer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}
