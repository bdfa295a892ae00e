// Package resample converts raw decoded audio into the canonical
// recognition format: mono, 32-bit float, 16 kHz.
package resample

import (
	"bytes"
	"fmt"
	"log/slog"

	soxr "github.com/zaf/resample"

	"github.com/chaz8081/gostt-file/internal/media"
)

// DefaultFrameSize is the number of output samples per converted frame.
const DefaultFrameSize = 1024

// sampleBytes is the width of one mono float32 sample.
const sampleBytes = 4

// Format describes a channel layout, sample format and rate.
type Format struct {
	Channels     int
	SampleFormat media.SampleFormat
	SampleRate   int
}

// Target is the fixed output format expected by whisper.cpp.
var Target = Format{Channels: 1, SampleFormat: media.SampleFormatF32, SampleRate: 16000}

// FormatOf returns the format of an audio stream's payload.
func FormatOf(s media.StreamDescriptor) Format {
	return Format{Channels: s.Channels, SampleFormat: s.SampleFormat, SampleRate: s.SampleRate}
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz %s %s", f.SampleRate, media.LayoutName(f.Channels), f.SampleFormat)
}

// Option configures a Converter.
type Option func(*Converter)

// WithFrameSize sets the number of output samples per converted frame.
func WithFrameSize(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) { c.log = l }
}

// Converter downmixes, resamples and re-frames audio. The soxr resampler
// holds back its filter delay and output is held until a full frame is
// available, so Flush must be called at end of input. Create one per
// stream; not safe for concurrent use.
type Converter struct {
	src       Format
	read      sampleReader
	rs        *soxr.Resampler
	out       *bytes.Buffer // resampled float32 samples not yet framed
	minIn     int
	in        []byte // mono input too short for soxr to produce a sample
	frameSize int
	log       *slog.Logger

	pts     int64
	ready   []media.ConvertedFrame
	flushed bool
}

// New creates a converter from src to Target.
func New(src Format, opts ...Option) (*Converter, error) {
	if src.Channels <= 0 {
		return nil, fmt.Errorf("resample: source %s: invalid channel count: %w", src, media.ErrConversion)
	}
	if src.SampleRate <= 0 {
		return nil, fmt.Errorf("resample: source %s: invalid sample rate: %w", src, media.ErrConversion)
	}
	read := readerFor(src.SampleFormat)
	if read == nil {
		return nil, fmt.Errorf("resample: source %s: unsupported sample format: %w", src, media.ErrConversion)
	}

	out := &bytes.Buffer{}
	rs, err := soxr.New(out, float64(src.SampleRate), float64(Target.SampleRate), 1, soxr.F32, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resample: create resampler for %s: %w: %w", src, media.ErrConversion, err)
	}

	c := &Converter{
		src:       src,
		read:      read,
		rs:        rs,
		out:       out,
		minIn:     (src.SampleRate + Target.SampleRate - 1) / Target.SampleRate,
		frameSize: DefaultFrameSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log.Debug("resample: converter ready", "from", src.String(), "to", Target.String(), "frame_size", c.frameSize)
	return c, nil
}

// Push converts one raw frame.
func (c *Converter) Push(f media.RawFrame) error {
	if c.flushed {
		return fmt.Errorf("resample: push after flush: %w", media.ErrConversion)
	}
	if err := c.check(f); err != nil {
		return err
	}

	c.in = append(c.in, float32Plane(downmix(f, c.read))...)
	if len(c.in) < c.minIn*sampleBytes {
		return nil
	}
	if _, err := c.rs.Write(c.in); err != nil {
		return fmt.Errorf("resample: write %d samples: %w: %w", len(c.in)/sampleBytes, media.ErrConversion, err)
	}
	c.in = c.in[:0]
	for c.out.Len() >= c.frameSize*sampleBytes {
		c.emit(c.frameSize)
	}
	return nil
}

// Take returns the next converted frame, or false when none is available.
func (c *Converter) Take() (media.ConvertedFrame, bool) {
	if len(c.ready) == 0 {
		return media.ConvertedFrame{}, false
	}
	f := c.ready[0]
	c.ready[0] = media.ConvertedFrame{}
	c.ready = c.ready[1:]
	return f, true
}

// Flush signals end of input, emitting the resampler tail and the final
// partial frame. Input shorter than one output sample period is dropped.
// Calling Flush more than once is a no-op.
func (c *Converter) Flush() error {
	if c.flushed {
		return nil
	}
	c.flushed = true
	if len(c.in) >= c.minIn*sampleBytes {
		if _, err := c.rs.Write(c.in); err != nil {
			return fmt.Errorf("resample: write %d samples: %w: %w", len(c.in)/sampleBytes, media.ErrConversion, err)
		}
	}
	c.in = nil
	// Closing soxr writes its buffered tail to c.out.
	err := c.rs.Close()
	c.rs = nil
	if err != nil {
		return fmt.Errorf("resample: flush resampler: %w: %w", media.ErrConversion, err)
	}
	for n := c.out.Len() / sampleBytes; n > 0; n = c.out.Len() / sampleBytes {
		c.emit(min(c.frameSize, n))
	}
	return nil
}

// Close releases the resampler when the converter is abandoned before
// Flush. It is a no-op after Flush.
func (c *Converter) Close() error {
	if c.rs == nil {
		return nil
	}
	err := c.rs.Close()
	c.rs = nil
	return err
}

func (c *Converter) check(f media.RawFrame) error {
	if f.Format != c.src.SampleFormat || f.Channels != c.src.Channels || f.SampleRate != c.src.SampleRate {
		got := Format{Channels: f.Channels, SampleFormat: f.Format, SampleRate: f.SampleRate}
		return fmt.Errorf("resample: frame format %s does not match source %s: %w", got, c.src, media.ErrConversion)
	}

	width := f.Format.BytesPerSample()
	planes, planeLen := 1, f.Samples*width*f.Channels
	if f.Format.IsPlanar() {
		planes, planeLen = f.Channels, f.Samples*width
	}
	if len(f.Planes) != planes {
		return fmt.Errorf("resample: frame has %d planes, want %d: %w", len(f.Planes), planes, media.ErrConversion)
	}
	for i, p := range f.Planes {
		if len(p) < planeLen {
			return fmt.Errorf("resample: plane %d holds %d bytes, want %d: %w", i, len(p), planeLen, media.ErrConversion)
		}
	}
	return nil
}

// emit moves n resampled samples into a converted frame.
func (c *Converter) emit(n int) {
	plane := make([]byte, n*sampleBytes)
	copy(plane, c.out.Next(len(plane)))
	c.ready = append(c.ready, media.ConvertedFrame{
		SampleRate: Target.SampleRate,
		Samples:    n,
		PTS:        c.pts,
		Planes:     [][]byte{plane},
	})
	c.pts += int64(n)
}
