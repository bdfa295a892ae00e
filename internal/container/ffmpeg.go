package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/chaz8081/gostt-file/internal/media"
)

// stderrTailSize bounds how much ffmpeg diagnostic output is kept for error
// messages.
const stderrTailSize = 2048

// ffmpegDemuxer lists streams via ffprobe and pipes the first audio stream
// out of ffmpeg as interleaved s16le at the source rate and channel count.
type ffmpegDemuxer struct {
	ctx     context.Context
	path    string
	opts    Options
	streams []media.StreamDescriptor
	audio   *media.StreamDescriptor

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	buf    []byte
	pk     packetizer
	done   bool
}

func openFFmpeg(ctx context.Context, path string, opts Options) (*ffmpegDemuxer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("container: open %s: %w: %w", path, media.ErrOpen, err)
	}

	cmd := exec.CommandContext(ctx, opts.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("container: ffprobe %s: %w: %w%s", path, media.ErrOpen, err, stderr.suffix())
	}

	streams, err := parseStreams(out)
	if err != nil {
		return nil, fmt.Errorf("container: ffprobe %s: %w", path, err)
	}
	opts.Logger.Debug("container: ffprobe streams", "path", path, "count", len(streams))

	d := &ffmpegDemuxer{ctx: ctx, path: path, opts: opts, streams: streams}
	for i := range streams {
		if streams[i].IsAudio() {
			d.audio = &streams[i]
			break
		}
	}
	return d, nil
}

// parseStreams turns `ffprobe -print_format json -show_streams` output into
// stream descriptors. Audio streams are described as the s16 payload the
// demuxer delivers.
func parseStreams(data []byte) ([]media.StreamDescriptor, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid ffprobe JSON: %w", media.ErrOpen)
	}
	root := gjson.ParseBytes(data)
	streams := root.Get("streams")
	if !streams.IsArray() {
		return nil, fmt.Errorf("ffprobe output has no streams array: %w", media.ErrOpen)
	}

	var out []media.StreamDescriptor
	var perr error
	streams.ForEach(func(_, s gjson.Result) bool {
		desc := media.StreamDescriptor{
			Index: int(s.Get("index").Int()),
			Type:  media.ParseMediaType(s.Get("codec_type").String()),
			Codec: s.Get("codec_name").String(),
		}
		if desc.IsAudio() {
			desc.Channels = int(s.Get("channels").Int())
			desc.SampleRate = int(s.Get("sample_rate").Int())
			desc.SampleFormat = media.SampleFormatS16
			desc.BitDepth = int(s.Get("bits_per_raw_sample").Int())
			if desc.BitDepth == 0 {
				desc.BitDepth = int(s.Get("bits_per_sample").Int())
			}
			if desc.Channels <= 0 || desc.SampleRate <= 0 {
				perr = fmt.Errorf("audio stream %d declares %d channels at %d Hz: %w",
					desc.Index, desc.Channels, desc.SampleRate, media.ErrOpen)
				return false
			}
		}
		out = append(out, desc)
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return out, nil
}

func (d *ffmpegDemuxer) Streams() []media.StreamDescriptor {
	return d.streams
}

func (d *ffmpegDemuxer) start() error {
	if d.audio == nil {
		return fmt.Errorf("container: %s: %w", d.path, media.ErrNoAudioStream)
	}
	cmd := exec.CommandContext(d.ctx, d.opts.FFmpegPath,
		"-nostdin",
		"-v", "error",
		"-i", d.path,
		"-map", fmt.Sprintf("0:%d", d.audio.Index),
		"-vn", "-sn", "-dn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("container: ffmpeg stdout: %w: %w", media.ErrDemux, err)
	}
	d.stderr = &tailBuffer{}
	cmd.Stderr = d.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("container: start ffmpeg: %w: %w", media.ErrDemux, err)
	}
	d.opts.Logger.Debug("container: ffmpeg started", "path", d.path, "stream", d.audio.Index, "pid", cmd.Process.Pid)

	d.cmd = cmd
	d.stdout = stdout
	d.buf = make([]byte, d.opts.PacketSize*d.audio.BlockAlign())
	d.pk = packetizer{stream: *d.audio}
	return nil
}

func (d *ffmpegDemuxer) ReadPacket() (media.Packet, error) {
	if d.done {
		return media.Packet{}, io.EOF
	}
	if d.cmd == nil {
		if err := d.start(); err != nil {
			return media.Packet{}, err
		}
	}
	for {
		n, err := io.ReadFull(d.stdout, d.buf)
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
			return media.Packet{}, d.finish()
		default:
			return media.Packet{}, fmt.Errorf("container: read ffmpeg output: %w: %w", media.ErrDemux, err)
		}
	}
}

// finish reaps ffmpeg at end of output and reports a failed exit.
func (d *ffmpegDemuxer) finish() error {
	d.done = true
	if err := d.cmd.Wait(); err != nil {
		return fmt.Errorf("container: ffmpeg exited: %w: %w%s", media.ErrDemux, err, d.stderr.suffix())
	}
	if err := d.pk.finish(); err != nil {
		return err
	}
	return io.EOF
}

func (d *ffmpegDemuxer) Close() error {
	if d.cmd == nil || d.done {
		return nil
	}
	d.done = true
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	// The kill makes Wait report a signal; that is the expected outcome here.
	_ = d.cmd.Wait()
	return nil
}

// tailBuffer keeps the last stderrTailSize bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTailSize; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// suffix formats the tail for appending to an error message.
func (t *tailBuffer) suffix() string {
	if t == nil {
		return ""
	}
	if s := t.String(); s != "" {
		return ": " + s
	}
	return ""
}
