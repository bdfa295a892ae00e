// Package container opens media files and exposes their streams and
// packets. WAV, FLAC and MP3 are read natively; any other container is
// probed and demuxed through ffprobe/ffmpeg.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/chaz8081/gostt-file/internal/media"
)

// DefaultPacketSize is the number of sample frames per packet for readers
// that slice a continuous PCM payload into packets.
const DefaultPacketSize = 4096

// Format names a container reader.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatWAV    Format = "wav"
	FormatFLAC   Format = "flac"
	FormatMP3    Format = "mp3"
	FormatFFmpeg Format = "ffmpeg"
)

// ParseFormat validates a reader name; the empty string means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatWAV, FormatFLAC, FormatMP3, FormatFFmpeg:
		return f, nil
	default:
		return "", fmt.Errorf("container: unknown format %q (supported: auto, wav, flac, mp3, ffmpeg)", s)
	}
}

// Demuxer reads packets from an opened container.
type Demuxer interface {
	// Streams lists every stream of the container in index order.
	Streams() []media.StreamDescriptor
	// ReadPacket returns the next packet, or io.EOF at end of input.
	ReadPacket() (media.Packet, error)
	// Close releases the file handle and any helper process.
	Close() error
}

// Options configures Open.
type Options struct {
	Format      Format
	PacketSize  int
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = FormatAuto
	}
	if o.PacketSize <= 0 {
		o.PacketSize = DefaultPacketSize
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Open opens path and reads its stream table without decoding payload. In auto
// mode an input the native reader rejects is handed to ffmpeg. The context
// bounds helper processes for the ffmpeg reader.
func Open(ctx context.Context, path string, opts Options) (Demuxer, error) {
	opts = opts.withDefaults()

	format := opts.Format
	if format == FormatFFmpeg {
		return openFFmpeg(ctx, path, opts)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w: %w", path, media.ErrOpen, err)
	}

	auto := format == FormatAuto
	if auto {
		format, err = sniff(f, path)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("container: detect %s: %w: %w", path, media.ErrOpen, err)
		}
	}
	opts.Logger.Debug("container: opening input", "path", path, "format", string(format))

	var d Demuxer
	switch format {
	case FormatWAV:
		d, err = openWAV(f, opts)
	case FormatFLAC:
		d, err = openFLAC(f, opts)
	case FormatMP3:
		d, err = openMP3(f, opts)
	default:
		f.Close()
		return openFFmpeg(ctx, path, opts)
	}
	if err != nil {
		f.Close()
		if auto && errors.Is(err, media.ErrOpen) {
			opts.Logger.Info("container: native reader rejected input, trying ffmpeg", "path", path, "format", string(format), "reason", err)
			return openFFmpeg(ctx, path, opts)
		}
		return nil, fmt.Errorf("container: open %s as %s: %w", path, format, err)
	}
	return d, nil
}

// sniff identifies the container from its content, falling back on the
// file extension when the content is not recognised, and rewinds f.
// Recognised media the native readers cannot handle goes to ffmpeg.
func sniff(f io.ReadSeeker, path string) (Format, error) {
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	switch {
	case mtype.Is("audio/wav"):
		return FormatWAV, nil
	case mtype.Is("audio/flac"):
		return FormatFLAC, nil
	case mtype.Is("audio/mpeg"):
		return FormatMP3, nil
	}
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || strings.HasPrefix(m.String(), "video/") {
			return FormatFFmpeg, nil
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".flac":
		return FormatFLAC, nil
	case ".mp3":
		return FormatMP3, nil
	}
	return FormatFFmpeg, nil
}

// packetizer slices a stream of interleaved samples into packets of whole
// sample frames, carrying partial frames over to the next read.
type packetizer struct {
	stream media.StreamDescriptor
	carry  []byte
	pts    int64
}

func (p *packetizer) packet(data []byte) (media.Packet, bool) {
	if len(p.carry) > 0 {
		data = append(p.carry, data...)
		p.carry = nil
	}
	align := p.stream.BlockAlign()
	whole := len(data) - len(data)%align
	if whole < len(data) {
		p.carry = append([]byte(nil), data[whole:]...)
	}
	if whole == 0 {
		return media.Packet{}, false
	}
	pkt := media.Packet{StreamIndex: p.stream.Index, PTS: p.pts, Data: data[:whole]}
	p.pts += int64(whole / align)
	return pkt, true
}

// finish reports a truncated trailing sample frame.
func (p *packetizer) finish() error {
	if len(p.carry) > 0 {
		return fmt.Errorf("container: %d trailing bytes do not form a whole sample frame: %w", len(p.carry), media.ErrDemux)
	}
	return nil
}
