package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chaz8081/gostt-file/internal/media"
)

func stereoS16(index int) media.StreamDescriptor {
	return media.StreamDescriptor{
		Index:        index,
		Type:         media.MediaTypeAudio,
		Codec:        "pcm_s16le",
		Channels:     2,
		SampleFormat: media.SampleFormatS16,
		SampleRate:   44100,
	}
}

// packetOf builds a packet of n interleaved s16 stereo sample frames whose
// bytes count up from start.
func packetOf(index, n int, start byte) media.Packet {
	data := make([]byte, n*4)
	for i := range data {
		data[i] = start + byte(i)
	}
	return media.Packet{StreamIndex: index, Data: data}
}

func drain(d *Decoder) []media.RawFrame {
	var frames []media.RawFrame
	for {
		f, ok := d.Take()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestNewDecoderRejectsBadStreams(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*media.StreamDescriptor)
	}{
		{"video stream", func(s *media.StreamDescriptor) { s.Type = media.MediaTypeVideo }},
		{"no sample format", func(s *media.StreamDescriptor) { s.SampleFormat = media.SampleFormatNone }},
		{"zero channels", func(s *media.StreamDescriptor) { s.Channels = 0 }},
		{"zero rate", func(s *media.StreamDescriptor) { s.SampleRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stereoS16(0)
			tt.modify(&s)
			if _, err := NewDecoder(s); !errors.Is(err, media.ErrDecode) {
				t.Errorf("NewDecoder() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestDecoderBuffersUntilFrameIsFull(t *testing.T) {
	d, err := NewDecoder(stereoS16(0), WithFrameSize(100))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	if err := d.Push(packetOf(0, 60, 0)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, ok := d.Take(); ok {
		t.Fatal("Take() returned a frame before a full frame was buffered")
	}

	if err := d.Push(packetOf(0, 60, 0)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	frames := drain(d)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Samples != 100 {
		t.Errorf("Samples = %d, want 100", frames[0].Samples)
	}
	if len(frames[0].Planes) != 1 || len(frames[0].Planes[0]) != 400 {
		t.Errorf("plane layout = %d planes, want 1 plane of 400 bytes", len(frames[0].Planes))
	}

	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	tail := drain(d)
	if len(tail) != 1 || tail[0].Samples != 20 {
		t.Fatalf("flush frames = %+v, want one frame of 20 samples", tail)
	}
	if tail[0].PTS != 100 {
		t.Errorf("tail PTS = %d, want 100", tail[0].PTS)
	}
}

func TestDecoderTakeAfterDrainStaysEmpty(t *testing.T) {
	d, err := NewDecoder(stereoS16(0), WithFrameSize(10))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	if err := d.Push(packetOf(0, 25, 0)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := len(drain(d)); got != 3 {
		t.Fatalf("got %d frames, want 3", got)
	}
	for i := 0; i < 3; i++ {
		if _, ok := d.Take(); ok {
			t.Fatal("Take() resurrected a frame after drain")
		}
	}
	if err := d.Flush(); err != nil {
		t.Errorf("second Flush() error = %v", err)
	}
	if _, ok := d.Take(); ok {
		t.Fatal("Take() returned a frame after a repeated Flush")
	}
}

func TestDecoderPreservesByteOrder(t *testing.T) {
	d, err := NewDecoder(stereoS16(0), WithFrameSize(3))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	p1 := packetOf(0, 2, 0)
	p2 := packetOf(0, 2, 8)
	for _, p := range []media.Packet{p1, p2} {
		if err := d.Push(p); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	_ = d.Flush()

	var got []byte
	for _, f := range drain(d) {
		got = append(got, f.Planes[0]...)
	}
	want := append(append([]byte{}, p1.Data...), p2.Data...)
	if !bytes.Equal(got, want) {
		t.Errorf("decoded bytes = %v, want %v", got, want)
	}
}

func TestDecoderFramesDoNotAliasInput(t *testing.T) {
	d, err := NewDecoder(stereoS16(0), WithFrameSize(2))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	p := packetOf(0, 2, 1)
	if err := d.Push(p); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	for i := range p.Data {
		p.Data[i] = 0xFF
	}
	f, ok := d.Take()
	if !ok {
		t.Fatal("Take() returned no frame")
	}
	if f.Planes[0][0] != 1 {
		t.Errorf("frame plane aliases packet data: first byte = %#x", f.Planes[0][0])
	}
}

func TestDecoderPlanar(t *testing.T) {
	s := media.StreamDescriptor{
		Index:        3,
		Type:         media.MediaTypeAudio,
		Codec:        "flac",
		Channels:     2,
		SampleFormat: media.SampleFormatS32P,
		SampleRate:   48000,
	}
	d, err := NewDecoder(s, WithFrameSize(4))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	// 3 samples per channel: left plane bytes 0..11, right plane 100..111.
	data := make([]byte, 24)
	for i := 0; i < 12; i++ {
		data[i] = byte(i)
		data[12+i] = byte(100 + i)
	}
	for i := 0; i < 2; i++ {
		if err := d.Push(media.Packet{StreamIndex: 3, Data: data}); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	_ = d.Flush()

	frames := drain(d)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	first := frames[0]
	if len(first.Planes) != 2 {
		t.Fatalf("planes = %d, want 2", len(first.Planes))
	}
	if len(first.Planes[0]) != 16 || len(first.Planes[1]) != 16 {
		t.Fatalf("plane sizes = %d/%d, want 16/16", len(first.Planes[0]), len(first.Planes[1]))
	}
	// Fourth left sample is the first sample of the second packet.
	if first.Planes[0][12] != 0 || first.Planes[1][12] != 100 {
		t.Errorf("planes interleaved across packets incorrectly: %v %v", first.Planes[0], first.Planes[1])
	}
	if frames[1].Samples != 2 {
		t.Errorf("tail Samples = %d, want 2", frames[1].Samples)
	}
}

func TestDecoderPushErrors(t *testing.T) {
	d, err := NewDecoder(stereoS16(0))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	if err := d.Push(media.Packet{StreamIndex: 0, Data: make([]byte, 6)}); !errors.Is(err, media.ErrDecode) {
		t.Errorf("misaligned Push() error = %v, want ErrDecode", err)
	}
	if err := d.Push(packetOf(1, 4, 0)); !errors.Is(err, media.ErrDecode) {
		t.Errorf("foreign stream Push() error = %v, want ErrDecode", err)
	}
	_ = d.Flush()
	if err := d.Push(packetOf(0, 4, 0)); !errors.Is(err, media.ErrDecode) {
		t.Errorf("Push() after Flush error = %v, want ErrDecode", err)
	}
}
