package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// ErrDecode is returned when an inbound audio payload cannot be turned into a
// playable buffer (bad base64, truncated PCM).
var ErrDecode = errors.New("audio: decode error")

// PCMMIMEType returns the MIME type for raw 16-bit PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodeFrame converts normalised samples into a transport chunk tagged for the
// 16 kHz live input. Samples outside [-1, 1] are clamped. NaN and infinite
// samples indicate a broken producer and cause a panic.
func EncodeFrame(samples []float32) Chunk {
	return Chunk{
		Data:     BytesToBase64(EncodePCM16(samples)),
		MIMEType: PCMMIMEType(InputSampleRate),
	}
}

// EncodePCM16 converts normalised samples to 16-bit signed little-endian PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			panic(fmt.Sprintf("audio: sample %d is not finite (%v)", i, s))
		}
		v := int16(quantize(f))
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// quantize clamps f to [-1, 1] and maps it onto the int16 range. Negative values
// scale by 32768 and positive values by 32767 so both ends are reachable.
func quantize(f float64) int32 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f < 0 {
		return int32(math.Round(f * 32768))
	}
	return int32(math.Round(f * 32767))
}

// DecodePCM16 converts 16-bit signed little-endian PCM to normalised samples.
// It returns ErrDecode if pcm has an odd length.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM byte count %d", ErrDecode, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out, nil
}

// DecodeChunk interprets pcm as interleaved 16-bit little-endian samples and
// wraps them in a Buffer tagged with sampleRate. channels defaults to 1.
func DecodeChunk(pcm []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		channels = 1
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrDecode, sampleRate)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrDecode, len(pcm), channels)
	}
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// BytesToBase64 encodes b with standard padded base64.
func BytesToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64ToBytes decodes standard padded base64. Malformed input yields ErrDecode.
func Base64ToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return b, nil
}
