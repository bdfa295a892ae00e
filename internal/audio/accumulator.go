// Package audio accumulates converted mono frames into the float32 sample
// buffer handed to whisper.cpp.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chaz8081/gostt-file/internal/media"
)

// SampleRate is the rate of every SampleBuffer.
const SampleRate = 16000

// errSealed is returned when appending to a finished buffer.
var errSealed = errors.New("audio: sample buffer already finished")

// SampleBuffer is the mono 16 kHz float32 signal of a whole input, in
// presentation order. It only grows until Finish seals it.
type SampleBuffer struct {
	samples []float32
	sealed  bool
}

// Len returns the number of samples.
func (b *SampleBuffer) Len() int {
	return len(b.samples)
}

// Duration returns the length of the signal.
func (b *SampleBuffer) Duration() time.Duration {
	return time.Duration(len(b.samples)) * time.Second / SampleRate
}

// Samples returns the accumulated samples. The slice is shared with the
// buffer and must be treated as read-only.
func (b *SampleBuffer) Samples() []float32 {
	return b.samples
}

// Sealed reports whether the buffer is final.
func (b *SampleBuffer) Sealed() bool {
	return b.sealed
}

// Accumulator appends the single plane of each converted frame to a
// SampleBuffer it owns until Finish.
type Accumulator struct {
	buf *SampleBuffer
}

// NewAccumulator creates an accumulator with an empty buffer.
func NewAccumulator() *Accumulator {
	return &Accumulator{buf: &SampleBuffer{}}
}

// Len returns the number of samples accumulated so far.
func (a *Accumulator) Len() int {
	return a.buf.Len()
}

// Append decodes the frame's plane and appends it. A frame that fails
// validation leaves the buffer unchanged.
func (a *Accumulator) Append(f media.ConvertedFrame) error {
	if a.buf.sealed {
		return errSealed
	}
	if len(f.Planes) != 1 {
		return fmt.Errorf("audio: append frame at pts %d with %d planes: %w", f.PTS, len(f.Planes), media.ErrUnexpectedPlaneCount)
	}
	samples, err := bytesToFloat32(f.Planes[0])
	if err != nil {
		return fmt.Errorf("audio: append frame at pts %d: %w", f.PTS, err)
	}
	a.buf.samples = append(a.buf.samples, samples...)
	return nil
}

// Finish seals the buffer and hands it over; further appends fail.
func (a *Accumulator) Finish() *SampleBuffer {
	a.buf.sealed = true
	return a.buf
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("plane of %d bytes is not a multiple of 4: %w", len(data), media.ErrMalformedFrame)
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}
