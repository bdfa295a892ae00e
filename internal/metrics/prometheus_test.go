package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chaz8081/gostt-file/internal/audio"
	"github.com/chaz8081/gostt-file/internal/media"
	"github.com/chaz8081/gostt-file/internal/pipeline"
	"github.com/chaz8081/gostt-file/internal/transcribe"
)

func extractionResult() *pipeline.Result {
	acc := audio.NewAccumulator()
	_ = acc.Append(media.ConvertedFrame{Samples: 8000, Planes: [][]byte{make([]byte, 4*8000)}})
	res := &pipeline.Result{
		Buffer:  acc.Finish(),
		Elapsed: 1500 * time.Millisecond,
	}
	res.Stats.PacketsRead = 12
	res.Stats.PacketsSkipped = 2
	res.Stats.DecodedFrames[pipeline.PhaseMain] = 9
	res.Stats.DecodedFrames[pipeline.PhaseDecoderFlush] = 1
	res.Stats.ConvertedFrames[pipeline.PhaseMain] = 7
	res.Stats.ConvertedFrames[pipeline.PhaseConverterFlush] = 1
	res.Stats.Samples = 8000
	return res
}

func TestRecordExtraction(t *testing.T) {
	m := NewMetrics()
	m.RecordExtraction(extractionResult())

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"routed packets", testutil.ToFloat64(m.Packets.WithLabelValues("routed")), 10},
		{"skipped packets", testutil.ToFloat64(m.Packets.WithLabelValues("skipped")), 2},
		{"decoder main", testutil.ToFloat64(m.Frames.WithLabelValues("decoder", "main")), 9},
		{"decoder flush", testutil.ToFloat64(m.Frames.WithLabelValues("decoder", "decoder_flush")), 1},
		{"converter flush", testutil.ToFloat64(m.Frames.WithLabelValues("converter", "converter_flush")), 1},
		{"samples", testutil.ToFloat64(m.Samples), 8000},
		{"audio seconds", testutil.ToFloat64(m.AudioSeconds), 0.5},
		{"extract duration", testutil.ToFloat64(m.StageDuration.WithLabelValues("extract")), 1.5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRecordTranscriptionAndWER(t *testing.T) {
	m := NewMetrics()
	m.RecordTranscription(3, 2*time.Second)
	m.RecordWER(transcribe.ComputeWER("ask not what", "ask what"))

	if got := testutil.ToFloat64(m.Segments); got != 3 {
		t.Errorf("segments = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.StageDuration.WithLabelValues("transcribe")); got != 2 {
		t.Errorf("transcribe duration = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.WordErrorRate); got < 0.33 || got > 0.34 {
		t.Errorf("word error rate = %v, want 1/3", got)
	}
}

func TestRecordOutcome(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	m := NewMetrics()
	m.RecordOutcome(nil, now)
	if got := testutil.ToFloat64(m.LastRunSuccess); got != 1 {
		t.Errorf("last run success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastRunTime); got != 1_700_000_000 {
		t.Errorf("last run time = %v", got)
	}

	err := fmt.Errorf("pipeline: read packet: %w", media.ErrDemux)
	m.RecordOutcome(err, now)
	if got := testutil.ToFloat64(m.LastRunSuccess); got != 0 {
		t.Errorf("last run success = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Failures.WithLabelValues("demux")); got != 1 {
		t.Errorf("demux failures = %v, want 1", got)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("container: open x: %w: %w", media.ErrOpen, os.ErrNotExist), "open"},
		{fmt.Errorf("pipeline: x: %w", media.ErrNoAudioStream), "no_audio_stream"},
		{fmt.Errorf("audio: append: %w", media.ErrUnexpectedPlaneCount), "unexpected_plane_count"},
		{fmt.Errorf("transcribe: process: %w", transcribe.ErrEngine), "engine"},
		{fmt.Errorf("transcribe: read segment 1: %w", transcribe.ErrSegmentRead), "segment_read"},
		{errors.New("flag parsing"), "other"},
	}
	for _, tt := range tests {
		if got := Category(tt.err); got != tt.want {
			t.Errorf("Category(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordExtraction(extractionResult())
	m.RecordOutcome(nil, time.Now())

	path := filepath.Join(t.TempDir(), "gostt.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`gostt_file_packets_total{result="skipped"} 2`,
		`gostt_file_samples_total 8000`,
		`gostt_file_last_run_success 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}

func TestRegistryGather(t *testing.T) {
	m := NewMetrics()
	m.RecordOutcome(nil, time.Now())

	n, err := testutil.GatherAndCount(m.Registry(), "gostt_file_last_run_success", "gostt_file_last_run_timestamp_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("gathered %d series, want 2", n)
	}
}
