package media

import "fmt"

// SampleFormat identifies how samples are encoded inside a frame's planes.
// Names follow the ffmpeg convention ("s16", "fltp", ...).
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatF32
	SampleFormatF64
	SampleFormatU8P
	SampleFormatS16P
	SampleFormatS32P
	SampleFormatF32P
	SampleFormatF64P
)

var sampleFormatNames = map[SampleFormat]string{
	SampleFormatU8:   "u8",
	SampleFormatS16:  "s16",
	SampleFormatS32:  "s32",
	SampleFormatF32:  "flt",
	SampleFormatF64:  "dbl",
	SampleFormatU8P:  "u8p",
	SampleFormatS16P: "s16p",
	SampleFormatS32P: "s32p",
	SampleFormatF32P: "fltp",
	SampleFormatF64P: "dblp",
}

func (f SampleFormat) String() string {
	if name, ok := sampleFormatNames[f]; ok {
		return name
	}
	return "none"
}

// ParseSampleFormat resolves an ffmpeg sample format name.
func ParseSampleFormat(name string) (SampleFormat, error) {
	for f, n := range sampleFormatNames {
		if n == name {
			return f, nil
		}
	}
	return SampleFormatNone, fmt.Errorf("media: unknown sample format %q", name)
}

// Valid reports whether f is a known sample format.
func (f SampleFormat) Valid() bool {
	_, ok := sampleFormatNames[f]
	return ok
}

// IsPlanar reports whether each channel lives in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f >= SampleFormatU8P && f <= SampleFormatF64P
}

// Packed returns the interleaved counterpart of a planar format.
func (f SampleFormat) Packed() SampleFormat {
	if f.IsPlanar() {
		return f - (SampleFormatU8P - SampleFormatU8)
	}
	return f
}

// BytesPerSample returns the width of a single sample of one channel.
func (f SampleFormat) BytesPerSample() int {
	switch f.Packed() {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	case SampleFormatF64:
		return 8
	default:
		return 0
	}
}
