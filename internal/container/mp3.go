package container

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/chaz8081/gostt-file/internal/media"
)

// go-mp3 always produces interleaved 16-bit stereo.
const mp3Channels = 2

type mp3Demuxer struct {
	file   *os.File
	dec    *mp3.Decoder
	stream media.StreamDescriptor
	buf    []byte
	pk     packetizer
}

func openMP3(f *os.File, opts Options) (*mp3Demuxer, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("parse MP3 header: %w: %w", media.ErrOpen, err)
	}
	stream := media.StreamDescriptor{
		Index:        0,
		Type:         media.MediaTypeAudio,
		Codec:        "mp3",
		Channels:     mp3Channels,
		SampleFormat: media.SampleFormatS16,
		SampleRate:   dec.SampleRate(),
		BitDepth:     16,
	}
	return &mp3Demuxer{
		file:   f,
		dec:    dec,
		stream: stream,
		buf:    make([]byte, opts.PacketSize*stream.BlockAlign()),
		pk:     packetizer{stream: stream},
	}, nil
}

func (d *mp3Demuxer) Streams() []media.StreamDescriptor {
	return []media.StreamDescriptor{d.stream}
}

func (d *mp3Demuxer) ReadPacket() (media.Packet, error) {
	for {
		n, err := io.ReadFull(d.dec, d.buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, d.buf[:n])
			if pkt, ok := d.pk.packet(data); ok {
				return pkt, nil
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if n > 0 {
				continue
			}
			if err := d.pk.finish(); err != nil {
				return media.Packet{}, err
			}
			return media.Packet{}, io.EOF
		default:
			return media.Packet{}, fmt.Errorf("container: decode MP3 after sample %d: %w: %w", d.pk.pts, media.ErrDemux, err)
		}
	}
}

func (d *mp3Demuxer) Close() error {
	return d.file.Close()
}
