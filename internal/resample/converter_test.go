package resample

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/chaz8081/gostt-file/internal/media"
)

// s16Frame builds an interleaved s16 frame where every channel carries the
// same value v(i) for sample i.
func s16Frame(channels, rate, samples int, v func(i int) int16) media.RawFrame {
	plane := make([]byte, samples*channels*2)
	for i := 0; i < samples; i++ {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(plane[(i*channels+c)*2:], uint16(v(i)))
		}
	}
	return media.RawFrame{
		Format:     media.SampleFormatS16,
		Channels:   channels,
		SampleRate: rate,
		Samples:    samples,
		Planes:     [][]byte{plane},
	}
}

func f32Samples(t *testing.T, f media.ConvertedFrame) []float32 {
	t.Helper()
	if len(f.Planes) != 1 {
		t.Fatalf("converted frame has %d planes, want 1", len(f.Planes))
	}
	p := f.Planes[0]
	out := make([]float32, len(p)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}
	return out
}

func drainSamples(t *testing.T, c *Converter) []float32 {
	t.Helper()
	var out []float32
	for {
		f, ok := c.Take()
		if !ok {
			return out
		}
		if f.SampleRate != Target.SampleRate {
			t.Fatalf("converted frame rate = %d, want %d", f.SampleRate, Target.SampleRate)
		}
		out = append(out, f32Samples(t, f)...)
	}
}

func TestNewRejectsUnsupportedSource(t *testing.T) {
	tests := []struct {
		name string
		src  Format
	}{
		{"zero channels", Format{Channels: 0, SampleFormat: media.SampleFormatS16, SampleRate: 44100}},
		{"zero rate", Format{Channels: 2, SampleFormat: media.SampleFormatS16, SampleRate: 0}},
		{"no format", Format{Channels: 2, SampleFormat: media.SampleFormatNone, SampleRate: 44100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.src); !errors.Is(err, media.ErrConversion) {
				t.Errorf("New(%v) error = %v, want ErrConversion", tt.src, err)
			}
		})
	}
}

// lengthSlack bounds how far the resampled length may stray from
// duration*16000.
const lengthSlack = 16

func within(got, want, slack int) bool {
	return got >= want-slack && got <= want+slack
}

func TestConvertThreeSecondsStereo(t *testing.T) {
	const rate, total, chunk = 44100, 3 * 44100, 1024

	c, err := New(Format{Channels: 2, SampleFormat: media.SampleFormatS16, SampleRate: rate})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var got []float32
	for off := 0; off < total; off += chunk {
		n := min(chunk, total-off)
		if err := c.Push(s16Frame(2, rate, n, func(int) int16 { return 8192 })); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		got = append(got, drainSamples(t, c)...)
	}
	beforeFlush := len(got)

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	got = append(got, drainSamples(t, c)...)

	if !within(len(got), 48000, lengthSlack) {
		t.Errorf("converted %d samples, want about 48000", len(got))
	}
	if beforeFlush >= len(got) {
		t.Errorf("flush added no samples (%d before, %d after); skipping it would not be lossy", beforeFlush, len(got))
	}
	// The filter rings at the edges of the signal; the body holds the level.
	for i := 1000; i < len(got)-1000; i++ {
		if math.Abs(float64(got[i])-0.25) > 1e-3 {
			t.Fatalf("sample[%d] = %f, want 0.25", i, got[i])
		}
	}
}

func TestConvertWithoutFlushIsLossy(t *testing.T) {
	run := func(flush bool) int {
		c, err := New(Format{Channels: 1, SampleFormat: media.SampleFormatS16, SampleRate: 22050}, WithFrameSize(256))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer c.Close()
		if err := c.Push(s16Frame(1, 22050, 5000, func(i int) int16 { return int16(i) })); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		if flush {
			if err := c.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}
		}
		return len(drainSamples(t, c))
	}

	with, without := run(true), run(false)
	if without >= with {
		t.Errorf("samples without flush = %d, with flush = %d; want fewer without", without, with)
	}
}

func TestConvertFramesAreContiguous(t *testing.T) {
	c, err := New(Format{Channels: 1, SampleFormat: media.SampleFormatS16, SampleRate: 48000}, WithFrameSize(300))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := c.Push(s16Frame(1, 48000, 4800, func(int) int16 { return 1000 })); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var pts int64
	var frames []media.ConvertedFrame
	for {
		f, ok := c.Take()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	for i, f := range frames {
		if f.PTS != pts {
			t.Errorf("frame %d PTS = %d, want %d", i, f.PTS, pts)
		}
		if i < len(frames)-1 && f.Samples != 300 {
			t.Errorf("frame %d holds %d samples, want 300", i, f.Samples)
		}
		if len(f.Planes[0]) != f.Samples*4 {
			t.Errorf("frame %d plane is %d bytes for %d samples", i, len(f.Planes[0]), f.Samples)
		}
		pts += int64(f.Samples)
	}
	if !within(int(pts), 16000, lengthSlack) {
		t.Errorf("converted %d samples, want about 16000", pts)
	}
}

func TestConvertTinyFinalFrame(t *testing.T) {
	c, err := New(Format{Channels: 1, SampleFormat: media.SampleFormatS16, SampleRate: 44100}, WithFrameSize(64))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Push(s16Frame(1, 44100, 4410, func(int) int16 { return 0 })); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	// Shorter than one output sample period.
	if err := c.Push(s16Frame(1, 44100, 1, func(int) int16 { return 0 })); err != nil {
		t.Fatalf("Push() of a one-sample frame error = %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := len(drainSamples(t, c)); !within(got, 1600, lengthSlack) {
		t.Errorf("converted %d samples, want about 1600", got)
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name  string
		frame media.RawFrame
		want  []float32
	}{
		{
			name: "mono f32 is unchanged",
			frame: media.RawFrame{
				Format: media.SampleFormatF32, Channels: 1, SampleRate: 16000, Samples: 6,
				Planes: [][]byte{float32Plane([]float32{0.5, -0.5, 0.25, -0.25, 1, -1})},
			},
			want: []float32{0.5, -0.5, 0.25, -0.25, 1, -1},
		},
		{
			name: "planar stereo averages",
			frame: media.RawFrame{
				Format: media.SampleFormatF32P, Channels: 2, SampleRate: 16000, Samples: 3,
				Planes: [][]byte{
					float32Plane([]float32{1, 1, 1}),
					float32Plane([]float32{0, -1, 0.5}),
				},
			},
			want: []float32{0.5, 0, 0.75},
		},
		{
			name: "unsigned 8 bit is centred",
			frame: media.RawFrame{
				Format: media.SampleFormatU8, Channels: 1, SampleRate: 16000, Samples: 3,
				Planes: [][]byte{{128, 0, 192}},
			},
			want: []float32{0, -1, 0.5},
		},
		{
			name:  "interleaved s16 stereo",
			frame: s16Frame(2, 44100, 2, func(i int) int16 { return int16(16384 * (1 - 2*i)) }),
			want:  []float32{0.5, -0.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := downmix(tt.frame, readerFor(tt.frame.Format))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d samples, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestConvertRejectsMismatchedFrames(t *testing.T) {
	src := Format{Channels: 2, SampleFormat: media.SampleFormatS16, SampleRate: 44100}
	tests := []struct {
		name  string
		frame media.RawFrame
	}{
		{"wrong rate", s16Frame(2, 48000, 4, func(int) int16 { return 0 })},
		{"wrong channels", s16Frame(1, 44100, 4, func(int) int16 { return 0 })},
		{"short plane", media.RawFrame{Format: media.SampleFormatS16, Channels: 2, SampleRate: 44100, Samples: 4, Planes: [][]byte{make([]byte, 8)}}},
		{"extra plane", media.RawFrame{Format: media.SampleFormatS16, Channels: 2, SampleRate: 44100, Samples: 1, Planes: [][]byte{make([]byte, 4), make([]byte, 4)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(src)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer c.Close()
			if err := c.Push(tt.frame); !errors.Is(err, media.ErrConversion) {
				t.Errorf("Push() error = %v, want ErrConversion", err)
			}
		})
	}
}

func TestConverterDrainIsIdempotent(t *testing.T) {
	c, err := New(Format{Channels: 1, SampleFormat: media.SampleFormatS16, SampleRate: 8000}, WithFrameSize(100))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Push(s16Frame(1, 8000, 1000, func(int) int16 { return 0 })); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := len(drainSamples(t, c)); !within(got, 2000, lengthSlack) {
		t.Fatalf("got %d samples, want about 2000", got)
	}
	for i := 0; i < 3; i++ {
		if _, ok := c.Take(); ok {
			t.Fatal("Take() resurrected a frame after drain")
		}
	}
	if err := c.Flush(); err != nil {
		t.Errorf("second Flush() error = %v", err)
	}
	if _, ok := c.Take(); ok {
		t.Fatal("Take() returned a frame after a repeated Flush")
	}
	if err := c.Push(s16Frame(1, 8000, 10, func(int) int16 { return 0 })); !errors.Is(err, media.ErrConversion) {
		t.Errorf("Push() after Flush error = %v, want ErrConversion", err)
	}
}
