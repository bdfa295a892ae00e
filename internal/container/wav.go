package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chaz8081/gostt-file/internal/media"
)

// WAV format tags. go-audio only decodes integer PCM; an extensible header
// does not expose its subformat, so it is taken as integer PCM only at depths
// that cannot be float.
const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE
)

type wavDemuxer struct {
	file   *os.File
	dec    *wav.Decoder
	stream media.StreamDescriptor
	buf    *goaudio.IntBuffer
	pk     packetizer
}

func openWAV(f *os.File, opts Options) (*wavDemuxer, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV header: %w", media.ErrOpen)
	}
	switch {
	case dec.WavAudioFormat == wavFormatPCM:
	case dec.WavAudioFormat == wavFormatExtensible && dec.BitDepth <= 24:
	default:
		return nil, fmt.Errorf("unsupported WAV audio format %#x at %d bits (only integer PCM): %w", dec.WavAudioFormat, dec.BitDepth, media.ErrOpen)
	}

	var sf media.SampleFormat
	var codec string
	switch dec.BitDepth {
	case 8:
		sf, codec = media.SampleFormatU8, "pcm_u8"
	case 16:
		sf, codec = media.SampleFormatS16, "pcm_s16le"
	case 24:
		sf, codec = media.SampleFormatS32, "pcm_s24le"
	case 32:
		sf, codec = media.SampleFormatS32, "pcm_s32le"
	default:
		return nil, fmt.Errorf("unsupported WAV bit depth %d: %w", dec.BitDepth, media.ErrOpen)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return nil, fmt.Errorf("WAV header declares %d channels at %d Hz: %w", dec.NumChans, dec.SampleRate, media.ErrOpen)
	}
	stream := media.StreamDescriptor{
		Index:        0,
		Type:         media.MediaTypeAudio,
		Codec:        codec,
		Channels:     int(dec.NumChans),
		SampleFormat: sf,
		SampleRate:   int(dec.SampleRate),
		BitDepth:     int(dec.BitDepth),
	}
	return &wavDemuxer{
		file:   f,
		dec:    dec,
		stream: stream,
		buf: &goaudio.IntBuffer{
			Format:         dec.Format(),
			Data:           make([]int, opts.PacketSize*stream.Channels),
			SourceBitDepth: stream.BitDepth,
		},
		pk: packetizer{stream: stream},
	}, nil
}

func (d *wavDemuxer) Streams() []media.StreamDescriptor {
	return []media.StreamDescriptor{d.stream}
}

func (d *wavDemuxer) ReadPacket() (media.Packet, error) {
	for {
		// PCMBuffer seeks to the data chunk on first use.
		n, err := d.dec.PCMBuffer(d.buf)
		if err != nil {
			return media.Packet{}, fmt.Errorf("container: read WAV samples: %w: %w", media.ErrDemux, err)
		}
		if n == 0 {
			if err := d.pk.finish(); err != nil {
				return media.Packet{}, err
			}
			return media.Packet{}, io.EOF
		}
		if pkt, ok := d.pk.packet(d.encode(d.buf.Data[:n])); ok {
			return pkt, nil
		}
	}
}

// encode packs integer samples into the stream's sample format. 24-bit
// samples are left-aligned into s32.
func (d *wavDemuxer) encode(samples []int) []byte {
	width := d.stream.SampleFormat.BytesPerSample()
	out := make([]byte, len(samples)*width)
	switch d.stream.SampleFormat {
	case media.SampleFormatU8:
		for i, s := range samples {
			out[i] = byte(s)
		}
	case media.SampleFormatS16:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
		}
	case media.SampleFormatS32:
		shift := 32 - d.stream.BitDepth
		for i, s := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(s)<<shift))
		}
	}
	return out
}

func (d *wavDemuxer) Close() error {
	return d.file.Close()
}
