// Package metrics records what one transcription run did and writes it as a
// Prometheus textfile for the node_exporter textfile collector.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chaz8081/gostt-file/internal/media"
	"github.com/chaz8081/gostt-file/internal/pipeline"
	"github.com/chaz8081/gostt-file/internal/transcribe"
)

// Metrics contains all Prometheus metrics for a run.
type Metrics struct {
	reg *prometheus.Registry

	// Extraction metrics
	Packets      *prometheus.CounterVec
	Frames       *prometheus.CounterVec
	Samples      prometheus.Counter
	AudioSeconds prometheus.Gauge

	// Transcription metrics
	Segments       prometheus.Counter
	WordErrorRate  prometheus.Gauge
	StageDuration  *prometheus.GaugeVec
	LastRunSuccess prometheus.Gauge
	LastRunTime    prometheus.Gauge
	Failures       *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		Packets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_file_packets_total",
			Help: "Packets read from the container, by whether they were routed to the decoder or skipped",
		}, []string{"result"}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_file_frames_total",
			Help: "Frames produced by each pipeline stage, by drain phase",
		}, []string{"stage", "phase"}),
		Samples: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_file_samples_total",
			Help: "16 kHz mono samples accumulated for recognition",
		}),
		AudioSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_file_audio_seconds",
			Help: "Duration of the extracted audio",
		}),

		Segments: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_file_segments_total",
			Help: "Segments produced by the recognition engine",
		}),
		WordErrorRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_file_word_error_rate",
			Help: "Word error rate of the transcript against the reference text, when one is given",
		}),
		StageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gostt_file_stage_duration_seconds",
			Help: "Wall time spent in each stage of the run",
		}, []string{"stage"}),
		LastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_file_last_run_success",
			Help: "1 if the last run completed, 0 if it failed",
		}),
		LastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_file_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_file_failures_total",
			Help: "Failed runs by error category",
		}, []string{"category"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// RecordExtraction records the counters of a completed extraction.
func (m *Metrics) RecordExtraction(res *pipeline.Result) {
	m.Packets.WithLabelValues("routed").Add(float64(res.Stats.PacketsRead - res.Stats.PacketsSkipped))
	m.Packets.WithLabelValues("skipped").Add(float64(res.Stats.PacketsSkipped))
	for _, phase := range pipeline.Phases() {
		m.Frames.WithLabelValues("decoder", phase.String()).Add(float64(res.Stats.DecodedFrames[phase]))
		m.Frames.WithLabelValues("converter", phase.String()).Add(float64(res.Stats.ConvertedFrames[phase]))
	}
	m.Samples.Add(float64(res.Stats.Samples))
	m.AudioSeconds.Set(res.Buffer.Duration().Seconds())
	m.StageDuration.WithLabelValues("extract").Set(res.Elapsed.Seconds())
}

// RecordTranscription records the segments and duration of a recognition run.
func (m *Metrics) RecordTranscription(segments int, elapsed time.Duration) {
	m.Segments.Add(float64(segments))
	m.StageDuration.WithLabelValues("transcribe").Set(elapsed.Seconds())
}

// RecordWER records the word error rate against a reference transcript.
func (m *Metrics) RecordWER(res transcribe.WERResult) {
	m.WordErrorRate.Set(res.WER)
}

// RecordOutcome marks the run finished at now, failed when err is non-nil.
func (m *Metrics) RecordOutcome(err error, now time.Time) {
	m.LastRunTime.Set(float64(now.Unix()))
	if err == nil {
		m.LastRunSuccess.Set(1)
		return
	}
	m.LastRunSuccess.Set(0)
	m.Failures.WithLabelValues(Category(err)).Inc()
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

var categories = []struct {
	err  error
	name string
}{
	{media.ErrOpen, "open"},
	{media.ErrNoAudioStream, "no_audio_stream"},
	{media.ErrDemux, "demux"},
	{media.ErrDecode, "decode"},
	{media.ErrConversion, "conversion"},
	{media.ErrUnexpectedPlaneCount, "unexpected_plane_count"},
	{media.ErrMalformedFrame, "malformed_frame"},
	{transcribe.ErrEngine, "engine"},
	{transcribe.ErrSegmentRead, "segment_read"},
}

// Category names the error category of err for the failures metric.
func Category(err error) string {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "other"
}
