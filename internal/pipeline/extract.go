package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gostt-file/internal/audio"
	"github.com/chaz8081/gostt-file/internal/codec"
	"github.com/chaz8081/gostt-file/internal/container"
	"github.com/chaz8081/gostt-file/internal/media"
	"github.com/chaz8081/gostt-file/internal/resample"
)

// Options configures Extract.
type Options struct {
	Container          container.Options
	DecoderFrameSize   int
	ConverterFrameSize int
	Logger             *slog.Logger
}

// Result is the outcome of a successful extraction.
type Result struct {
	Buffer  *audio.SampleBuffer
	Stream  media.StreamDescriptor
	Stats   Stats
	Elapsed time.Duration
}

// Extract opens path, selects its first audio stream and returns all of it
// as 16 kHz mono float32 samples. The container is closed on every path.
func Extract(ctx context.Context, path string, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	copts := opts.Container
	copts.Logger = log
	dmx, err := container.Open(ctx, path, copts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := dmx.Close(); cerr != nil {
			log.Warn("pipeline: closing input failed", "path", path, "error", cerr)
		}
	}()

	stream, err := media.SelectAudioStream(dmx.Streams())
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	log.Info("pipeline: selected audio stream", "path", path, "stream", stream.String())

	dec, err := codec.NewDecoder(stream, codec.WithFrameSize(opts.DecoderFrameSize))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	conv, err := resample.New(resample.FormatOf(stream),
		resample.WithFrameSize(opts.ConverterFrameSize),
		resample.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	defer conv.Close()

	drv := NewDriver(dmx, stream, dec, conv, audio.NewAccumulator(), WithLogger(log))
	buf, err := drv.Run()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Buffer:  buf,
		Stream:  stream,
		Stats:   drv.Stats(),
		Elapsed: time.Since(start),
	}
	log.Info("pipeline: extraction complete",
		"samples", buf.Len(),
		"audio", buf.Duration().String(),
		"packets", res.Stats.PacketsRead,
		"elapsed", res.Elapsed.String(),
	)
	return res, nil
}
