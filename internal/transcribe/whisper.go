package transcribe

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// engine is the part of a loaded whisper model the transcriber uses.
type engine interface {
	NewContext() (session, error)
	Close() error
}

// session is one inference context.
type session interface {
	SetLanguage(string) error
	SetTranslate(bool)
	SetThreads(uint)
	Process([]float32, whisper.EncoderBeginCallback, whisper.SegmentCallback, whisper.ProgressCallback) error
	NextSegment() (whisper.Segment, error)
}

type whisperModel struct {
	model whisper.Model
}

func (m whisperModel) NewContext() (session, error) {
	ctx, err := m.model.NewContext()
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

func (m whisperModel) Close() error {
	return m.model.Close()
}

// WhisperTranscriber wraps a whisper.cpp model for speech-to-text.
type WhisperTranscriber struct {
	engine engine
	cfg    EngineConfig
	log    *slog.Logger
}

// NewWhisperTranscriber loads a whisper model from the given path.
// The caller must call Close() when done.
func NewWhisperTranscriber(modelPath string, cfg EngineConfig, log *slog.Logger) (*WhisperTranscriber, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w: %w", modelPath, ErrEngine, err)
	}
	return newWhisperTranscriber(whisperModel{model: model}, cfg, log), nil
}

func newWhisperTranscriber(e engine, cfg EngineConfig, log *slog.Logger) *WhisperTranscriber {
	if log == nil {
		log = slog.Default()
	}
	return &WhisperTranscriber{engine: e, cfg: cfg, log: log}
}

// Close releases the whisper model resources.
func (t *WhisperTranscriber) Close() error {
	if t.engine != nil {
		return t.engine.Close()
	}
	return nil
}

// Transcribe runs whisper once over samples in a fresh context and reads
// back every segment. A segment that cannot be read fails the whole call.
func (t *WhisperTranscriber) Transcribe(samples []float32, language string) ([]Segment, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("transcribe: no samples to process: %w", ErrEngine)
	}

	ctx, err := t.engine.NewContext()
	if err != nil {
		return nil, fmt.Errorf("transcribe: create context: %w: %w", ErrEngine, err)
	}
	if err := ctx.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("transcribe: set language %q: %w: %w", language, ErrEngine, err)
	}
	ctx.SetTranslate(false)
	if t.cfg.Threads > 0 {
		ctx.SetThreads(uint(t.cfg.Threads))
	}

	t.log.Debug("transcribe: processing",
		"samples", len(samples),
		"language", language,
		"threads", t.cfg.Threads,
		"print_special", t.cfg.PrintSpecial,
	)
	if err := ctx.Process(samples, nil, t.segmentCallback(), t.progressCallback()); err != nil {
		return nil, fmt.Errorf("transcribe: process: %w: %w", ErrEngine, err)
	}

	var segments []Segment
	for {
		seg, err := ctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("transcribe: read segment %d: %w: %w", len(segments), ErrSegmentRead, err)
		}
		segments = append(segments, Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	return segments, nil
}

func (t *WhisperTranscriber) segmentCallback() whisper.SegmentCallback {
	if !t.cfg.PrintRealtime {
		return nil
	}
	return func(seg whisper.Segment) {
		if t.cfg.PrintTimestamps {
			t.log.Info("transcribe: segment", "start", Ticks(seg.Start), "end", Ticks(seg.End), "text", seg.Text)
			return
		}
		t.log.Info("transcribe: segment", "text", seg.Text)
	}
}

func (t *WhisperTranscriber) progressCallback() whisper.ProgressCallback {
	if !t.cfg.PrintProgress {
		return nil
	}
	return func(percent int) {
		t.log.Info("transcribe: progress", "percent", percent)
	}
}
