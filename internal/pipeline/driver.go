// Package pipeline drives packets from a container through the decoder,
// converter and accumulator, and drains both stages at end of input so the
// final sample buffer is complete.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chaz8081/gostt-file/internal/audio"
	"github.com/chaz8081/gostt-file/internal/media"
)

// Demuxer reads packets from an opened container.
type Demuxer interface {
	Streams() []media.StreamDescriptor
	// ReadPacket returns io.EOF once the container is exhausted.
	ReadPacket() (media.Packet, error)
	Close() error
}

// Decoder turns packets into raw frames.
type Decoder interface {
	Push(media.Packet) error
	Take() (media.RawFrame, bool)
	Flush() error
}

// Converter turns raw frames into canonical frames.
type Converter interface {
	Push(media.RawFrame) error
	Take() (media.ConvertedFrame, bool)
	Flush() error
}

// State is a position in the drain protocol.
type State int

const (
	StateReading State = iota
	StateDrainingDecoder
	StateDrainingConverter
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateDrainingDecoder:
		return "draining-decoder"
	case StateDrainingConverter:
		return "draining-converter"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further steps are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Phase identifies which part of the run produced a frame.
type Phase int

const (
	PhaseMain Phase = iota
	PhaseDecoderFlush
	PhaseConverterFlush
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseMain:
		return "main"
	case PhaseDecoderFlush:
		return "decoder_flush"
	case PhaseConverterFlush:
		return "converter_flush"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Phases lists every phase in drain order.
func Phases() []Phase {
	return []Phase{PhaseMain, PhaseDecoderFlush, PhaseConverterFlush}
}

// Stats counts what moved through the pipeline.
type Stats struct {
	PacketsRead     int
	PacketsSkipped  int
	DecodedFrames   [numPhases]int
	ConvertedFrames [numPhases]int
	Samples         int
}

// Driver runs one extraction. It exclusively owns its collaborators for the
// duration of the run and is not reusable.
type Driver struct {
	demuxer   Demuxer
	stream    media.StreamDescriptor
	decoder   Decoder
	converter Converter
	acc       *audio.Accumulator
	log       *slog.Logger

	state State
	err   error
	stats Stats
	buf   *audio.SampleBuffer
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the logger for state transitions.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.log = l }
}

// NewDriver creates a driver for the selected stream. The demuxer is not
// closed by the driver.
func NewDriver(dmx Demuxer, stream media.StreamDescriptor, dec Decoder, conv Converter, acc *audio.Accumulator, opts ...DriverOption) *Driver {
	d := &Driver{
		demuxer:   dmx,
		stream:    stream,
		decoder:   dec,
		converter: conv,
		acc:       acc,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

// Stats returns a copy of the counters collected so far.
func (d *Driver) Stats() Stats {
	return d.stats
}

// Run steps until a terminal state and returns the sealed sample buffer.
func (d *Driver) Run() (*audio.SampleBuffer, error) {
	for !d.state.Terminal() {
		if err := d.Step(); err != nil {
			return nil, err
		}
	}
	if d.state == StateFailed {
		return nil, d.err
	}
	return d.buf, nil
}

// Step performs one unit of work for the current state: a single packet in
// Reading, a complete drain in either draining state. Any error moves the
// driver to StateFailed and is returned again by later calls.
func (d *Driver) Step() error {
	var err error
	switch d.state {
	case StateReading:
		err = d.read()
	case StateDrainingDecoder:
		err = d.drainDecoder()
	case StateDrainingConverter:
		err = d.drainConverter()
	case StateDone:
		return nil
	case StateFailed:
		return d.err
	}
	if err != nil {
		d.log.Debug("pipeline: run aborted", "state", d.state.String(), "error", err)
		d.state = StateFailed
		d.err = err
	}
	return err
}

func (d *Driver) read() error {
	pkt, err := d.demuxer.ReadPacket()
	if errors.Is(err, io.EOF) {
		if err := d.decoder.Flush(); err != nil {
			return fmt.Errorf("pipeline: flush decoder: %w", wrapAs(err, media.ErrDecode))
		}
		d.transition(StateDrainingDecoder)
		return nil
	}
	if err != nil {
		return fmt.Errorf("pipeline: read packet: %w", wrapAs(err, media.ErrDemux))
	}

	d.stats.PacketsRead++
	if pkt.StreamIndex != d.stream.Index {
		d.stats.PacketsSkipped++
		return nil
	}
	if err := d.decoder.Push(pkt); err != nil {
		return fmt.Errorf("pipeline: decode packet at pts %d: %w", pkt.PTS, wrapAs(err, media.ErrDecode))
	}
	return d.routeDecoded(PhaseMain)
}

func (d *Driver) drainDecoder() error {
	if err := d.routeDecoded(PhaseDecoderFlush); err != nil {
		return err
	}
	if err := d.converter.Flush(); err != nil {
		return fmt.Errorf("pipeline: flush converter: %w", wrapAs(err, media.ErrConversion))
	}
	d.transition(StateDrainingConverter)
	return nil
}

func (d *Driver) drainConverter() error {
	if err := d.routeConverted(PhaseConverterFlush); err != nil {
		return err
	}
	d.buf = d.acc.Finish()
	d.stats.Samples = d.buf.Len()
	d.transition(StateDone)
	return nil
}

// routeDecoded moves every available decoded frame through the converter
// and accumulates whatever the converter produces.
func (d *Driver) routeDecoded(phase Phase) error {
	for {
		frame, ok := d.decoder.Take()
		if !ok {
			return nil
		}
		d.stats.DecodedFrames[phase]++
		if err := d.converter.Push(frame); err != nil {
			return fmt.Errorf("pipeline: convert frame at pts %d: %w", frame.PTS, wrapAs(err, media.ErrConversion))
		}
		if err := d.routeConverted(phase); err != nil {
			return err
		}
	}
}

func (d *Driver) routeConverted(phase Phase) error {
	for {
		frame, ok := d.converter.Take()
		if !ok {
			return nil
		}
		d.stats.ConvertedFrames[phase]++
		if err := d.acc.Append(frame); err != nil {
			return fmt.Errorf("pipeline: accumulate: %w", err)
		}
	}
}

func (d *Driver) transition(next State) {
	d.log.Debug("pipeline: state change",
		"from", d.state.String(),
		"to", next.String(),
		"packets", d.stats.PacketsRead,
		"samples", d.acc.Len(),
	)
	d.state = next
}

// wrapAs tags err with category unless it already carries a pipeline
// category.
func wrapAs(err, category error) error {
	for _, known := range []error{
		media.ErrOpen, media.ErrNoAudioStream, media.ErrDemux, media.ErrDecode,
		media.ErrConversion, media.ErrUnexpectedPlaneCount, media.ErrMalformedFrame,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", category, err)
}
