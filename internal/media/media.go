// Package media holds the data model shared by the extraction pipeline:
// stream descriptors, compressed packets and the raw and converted frames
// that flow between the decoder, converter and accumulator.
package media

import (
	"fmt"
)

// MediaType classifies a stream inside a container.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
	MediaTypeSubtitle
	MediaTypeData
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// ParseMediaType maps ffprobe-style codec_type names onto a MediaType.
func ParseMediaType(s string) MediaType {
	switch s {
	case "audio":
		return MediaTypeAudio
	case "video":
		return MediaTypeVideo
	case "subtitle":
		return MediaTypeSubtitle
	case "data", "attachment":
		return MediaTypeData
	default:
		return MediaTypeUnknown
	}
}

// StreamDescriptor describes one stream of an opened container. For audio
// streams SampleFormat is the layout of the packet payload as delivered by
// the reader, not necessarily the codec's on-disk representation.
type StreamDescriptor struct {
	Index        int
	Type         MediaType
	Codec        string
	Channels     int
	SampleFormat SampleFormat
	SampleRate   int
	BitDepth     int // source bit depth, informational
}

// IsAudio reports whether the stream carries audio.
func (d StreamDescriptor) IsAudio() bool {
	return d.Type == MediaTypeAudio
}

// BlockAlign returns the number of payload bytes per sample frame (one
// sample for every channel).
func (d StreamDescriptor) BlockAlign() int {
	return d.SampleFormat.BytesPerSample() * d.Channels
}

func (d StreamDescriptor) String() string {
	if !d.IsAudio() {
		return fmt.Sprintf("#%d %s (%s)", d.Index, d.Type, d.Codec)
	}
	return fmt.Sprintf("#%d audio (%s) %dHz %s %s", d.Index, d.Codec, d.SampleRate, LayoutName(d.Channels), d.SampleFormat)
}

// LayoutName returns a human-readable channel layout name.
func LayoutName(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}

// SelectAudioStream returns the first audio stream in container order.
func SelectAudioStream(streams []StreamDescriptor) (StreamDescriptor, error) {
	for _, s := range streams {
		if s.IsAudio() {
			return s, nil
		}
	}
	return StreamDescriptor{}, fmt.Errorf("media: select stream among %d: %w", len(streams), ErrNoAudioStream)
}

// Packet is one unit of payload read from a container. PTS is expressed in
// samples at the stream's sample rate.
type Packet struct {
	StreamIndex int
	PTS         int64
	Data        []byte
}

// RawFrame is decoded audio in the source format. Interleaved formats carry
// a single plane, planar formats carry one plane per channel.
type RawFrame struct {
	Format     SampleFormat
	Channels   int
	SampleRate int
	Samples    int // per channel
	PTS        int64
	Planes     [][]byte
}

// ConvertedFrame is audio in the canonical target format. A mono frame has
// exactly one plane of little-endian float32 samples.
type ConvertedFrame struct {
	SampleRate int
	Samples    int
	PTS        int64
	Planes     [][]byte
}
