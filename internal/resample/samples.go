package resample

import (
	"encoding/binary"
	"math"

	"github.com/chaz8081/gostt-file/internal/media"
)

// sampleReader decodes the i-th sample of a plane into [-1, 1].
type sampleReader func(plane []byte, i int) float64

func readerFor(f media.SampleFormat) sampleReader {
	switch f.Packed() {
	case media.SampleFormatU8:
		return func(p []byte, i int) float64 {
			return (float64(p[i]) - 128) / 128
		}
	case media.SampleFormatS16:
		return func(p []byte, i int) float64 {
			return float64(int16(binary.LittleEndian.Uint16(p[i*2:]))) / 32768
		}
	case media.SampleFormatS32:
		return func(p []byte, i int) float64 {
			return float64(int32(binary.LittleEndian.Uint32(p[i*4:]))) / 2147483648
		}
	case media.SampleFormatF32:
		return func(p []byte, i int) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:])))
		}
	case media.SampleFormatF64:
		return func(p []byte, i int) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(p[i*8:]))
		}
	default:
		return nil
	}
}

// downmix averages all channels of a frame into a mono signal.
func downmix(f media.RawFrame, read sampleReader) []float32 {
	ch := f.Channels
	scale := 1 / float64(ch)
	out := make([]float32, f.Samples)
	for i := range out {
		var sum float64
		for c := 0; c < ch; c++ {
			if f.Format.IsPlanar() {
				sum += read(f.Planes[c], i)
			} else {
				sum += read(f.Planes[0], i*ch+c)
			}
		}
		out[i] = float32(sum * scale)
	}
	return out
}

// float32Plane encodes samples as little-endian float32 bytes.
func float32Plane(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
