// Package transcribe runs speech recognition over a complete 16 kHz mono
// sample buffer with whisper.cpp and returns time-stamped segments.
package transcribe

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEngine reports a model load or inference failure.
	ErrEngine = errors.New("transcription engine failure")
	// ErrSegmentRead reports a result segment that could not be read back.
	ErrSegmentRead = errors.New("segment read failure")
)

// Tick is whisper's native timestamp unit.
const Tick = 10 * time.Millisecond

// Segment is one recognized span of text, ordered by start time.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Ticks converts d to whisper timestamp ticks.
func Ticks(d time.Duration) int64 {
	return int64(d / Tick)
}

// String formats the segment as "[<start> - <end>]: <text>" with times in
// ticks.
func (s Segment) String() string {
	return fmt.Sprintf("[%d - %d]: %s", Ticks(s.Start), Ticks(s.End), s.Text)
}

// Text joins the text of all segments.
func Text(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Transcriber converts audio samples to segments.
type Transcriber interface {
	// Transcribe runs recognition once over mono 16kHz float32 samples.
	Transcribe(samples []float32, language string) ([]Segment, error)
	// Close releases backend resources.
	Close() error
}

// EngineConfig holds engine parameters applied to every run. Decoding is
// always greedy.
type EngineConfig struct {
	Threads         int
	PrintProgress   bool
	PrintRealtime   bool
	PrintTimestamps bool
	// PrintSpecial is recorded for completeness; the Go bindings have no
	// switch for special tokens.
	PrintSpecial bool
}
