// Package codec turns container packets into fixed-size raw audio frames.
//
// Compressed bitstreams (FLAC, MP3, anything routed through ffmpeg) are
// expanded by the container layer's libraries; the Decoder here receives
// sample payloads, regroups them into frames of a fixed size and hands out
// frames whose planes it no longer references. Like a real codec it holds
// input until a full frame is available, so Flush is required to release the
// tail.
package codec

import (
	"fmt"

	"github.com/chaz8081/gostt-file/internal/media"
)

// DefaultFrameSize is the number of samples per channel in an emitted frame.
const DefaultFrameSize = 1024

// Option configures a Decoder.
type Option func(*Decoder)

// WithFrameSize sets the number of samples per channel in each frame.
func WithFrameSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.frameSize = n
		}
	}
}

// Decoder buffers packet payloads for one stream and emits RawFrames.
// Not safe for concurrent use.
type Decoder struct {
	stream    media.StreamDescriptor
	frameSize int
	width     int // bytes per sample of one channel

	// pending holds buffered bytes per plane; a single plane for
	// interleaved formats.
	pending  [][]byte
	buffered int // samples per channel in pending
	pts      int64
	ptsSet   bool

	ready   []media.RawFrame
	flushed bool
}

// NewDecoder creates a decoder for an audio stream.
func NewDecoder(stream media.StreamDescriptor, opts ...Option) (*Decoder, error) {
	if !stream.IsAudio() {
		return nil, fmt.Errorf("codec: stream %d is %s: %w", stream.Index, stream.Type, media.ErrDecode)
	}
	if !stream.SampleFormat.Valid() {
		return nil, fmt.Errorf("codec: stream %d: unsupported sample format %s: %w", stream.Index, stream.SampleFormat, media.ErrDecode)
	}
	if stream.Channels <= 0 {
		return nil, fmt.Errorf("codec: stream %d: invalid channel count %d: %w", stream.Index, stream.Channels, media.ErrDecode)
	}
	if stream.SampleRate <= 0 {
		return nil, fmt.Errorf("codec: stream %d: invalid sample rate %d: %w", stream.Index, stream.SampleRate, media.ErrDecode)
	}

	d := &Decoder{
		stream:    stream,
		frameSize: DefaultFrameSize,
		width:     stream.SampleFormat.BytesPerSample(),
	}
	for _, o := range opts {
		o(d)
	}

	planes := 1
	if stream.SampleFormat.IsPlanar() {
		planes = stream.Channels
	}
	d.pending = make([][]byte, planes)
	return d, nil
}

// Push submits one packet. The payload is copied, so the caller may reuse
// the packet's buffer afterwards.
func (d *Decoder) Push(p media.Packet) error {
	if d.flushed {
		return fmt.Errorf("codec: push after flush: %w", media.ErrDecode)
	}
	if p.StreamIndex != d.stream.Index {
		return fmt.Errorf("codec: packet for stream %d pushed into decoder for stream %d: %w", p.StreamIndex, d.stream.Index, media.ErrDecode)
	}

	align := d.width * d.stream.Channels
	if len(p.Data)%align != 0 {
		return fmt.Errorf("codec: packet of %d bytes is not a multiple of block align %d: %w", len(p.Data), align, media.ErrDecode)
	}
	samples := len(p.Data) / align

	if !d.ptsSet {
		d.pts = p.PTS
		d.ptsSet = true
	}

	if len(d.pending) == 1 {
		d.pending[0] = append(d.pending[0], p.Data...)
	} else {
		planeLen := samples * d.width
		for ch := range d.pending {
			d.pending[ch] = append(d.pending[ch], p.Data[ch*planeLen:(ch+1)*planeLen]...)
		}
	}
	d.buffered += samples

	for d.buffered >= d.frameSize {
		d.emit(d.frameSize)
	}
	return nil
}

// Take returns the next decoded frame, or false when none is available.
func (d *Decoder) Take() (media.RawFrame, bool) {
	if len(d.ready) == 0 {
		return media.RawFrame{}, false
	}
	f := d.ready[0]
	d.ready[0] = media.RawFrame{}
	d.ready = d.ready[1:]
	return f, true
}

// Flush signals end of input and releases any partially filled frame.
// Calling Flush more than once is a no-op.
func (d *Decoder) Flush() error {
	if d.flushed {
		return nil
	}
	d.flushed = true
	if d.buffered > 0 {
		d.emit(d.buffered)
	}
	d.pending = nil
	return nil
}

// emit cuts n samples per channel off the pending buffers into a new frame.
func (d *Decoder) emit(n int) {
	planes := make([][]byte, len(d.pending))
	for i, buf := range d.pending {
		size := n * d.width
		if len(d.pending) == 1 {
			size *= d.stream.Channels
		}
		plane := make([]byte, size)
		copy(plane, buf[:size])
		planes[i] = plane
		d.pending[i] = append(buf[:0], buf[size:]...)
	}

	d.ready = append(d.ready, media.RawFrame{
		Format:     d.stream.SampleFormat,
		Channels:   d.stream.Channels,
		SampleRate: d.stream.SampleRate,
		Samples:    n,
		PTS:        d.pts,
		Planes:     planes,
	})
	d.pts += int64(n)
	d.buffered -= n
}
