package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"

	"github.com/chaz8081/gostt-file/internal/media"
)

// flacDemuxer yields one packet per FLAC frame. mewkiz/flac expands the
// entropy-coded subframes while parsing, so each payload is planar s32 with
// samples left-aligned to 32 bits.
type flacDemuxer struct {
	file   *os.File
	stream *flac.Stream
	desc   media.StreamDescriptor
	pts    int64
}

func openFLAC(f *os.File, _ Options) (*flacDemuxer, error) {
	stream, err := flac.New(f)
	if err != nil {
		return nil, fmt.Errorf("parse FLAC stream info: %w: %w", media.ErrOpen, err)
	}
	info := stream.Info
	if info.NChannels == 0 || info.SampleRate == 0 || info.BitsPerSample == 0 || info.BitsPerSample > 32 {
		return nil, fmt.Errorf("FLAC stream info declares %d channels, %d Hz, %d bits: %w",
			info.NChannels, info.SampleRate, info.BitsPerSample, media.ErrOpen)
	}

	return &flacDemuxer{
		file:   f,
		stream: stream,
		desc: media.StreamDescriptor{
			Index:        0,
			Type:         media.MediaTypeAudio,
			Codec:        "flac",
			Channels:     int(info.NChannels),
			SampleFormat: media.SampleFormatS32P,
			SampleRate:   int(info.SampleRate),
			BitDepth:     int(info.BitsPerSample),
		},
	}, nil
}

func (d *flacDemuxer) Streams() []media.StreamDescriptor {
	return []media.StreamDescriptor{d.desc}
}

func (d *flacDemuxer) ReadPacket() (media.Packet, error) {
	fr, err := d.stream.ParseNext()
	if errors.Is(err, io.EOF) {
		return media.Packet{}, io.EOF
	}
	if err != nil {
		return media.Packet{}, fmt.Errorf("container: parse FLAC frame after sample %d: %w: %w", d.pts, media.ErrDemux, err)
	}
	if len(fr.Subframes) != d.desc.Channels {
		return media.Packet{}, fmt.Errorf("container: FLAC frame has %d subframes, want %d: %w", len(fr.Subframes), d.desc.Channels, media.ErrDemux)
	}

	n := len(fr.Subframes[0].Samples)
	shift := 32 - d.desc.BitDepth
	data := make([]byte, n*4*d.desc.Channels)
	for c, sub := range fr.Subframes {
		if len(sub.Samples) != n {
			return media.Packet{}, fmt.Errorf("container: FLAC subframe %d has %d samples, want %d: %w", c, len(sub.Samples), n, media.ErrDemux)
		}
		plane := data[c*n*4:]
		for i, s := range sub.Samples {
			binary.LittleEndian.PutUint32(plane[i*4:], uint32(s<<shift))
		}
	}

	pkt := media.Packet{StreamIndex: d.desc.Index, PTS: d.pts, Data: data}
	d.pts += int64(n)
	return pkt, nil
}

func (d *flacDemuxer) Close() error {
	return d.file.Close()
}
