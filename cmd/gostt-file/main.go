package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/gostt-file/internal/config"
	"github.com/chaz8081/gostt-file/internal/container"
	"github.com/chaz8081/gostt-file/internal/metrics"
	"github.com/chaz8081/gostt-file/internal/models"
	"github.com/chaz8081/gostt-file/internal/pipeline"
	"github.com/chaz8081/gostt-file/internal/transcribe"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the parsed command line.
type options struct {
	input         string
	model         string
	language      string
	configPath    string
	logLevel      string
	metricsFile   string
	threads       int
	format        string
	reference     string
	downloadModel string
	initConfig    bool

	set map[string]bool // flags given explicitly
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: make(map[string]bool)}
	fs := flag.NewFlagSet("gostt-file", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.input, "input", "", "media file to transcribe")
	fs.StringVar(&o.input, "i", "", "shorthand for -input")
	fs.StringVar(&o.model, "model", "", "path to a whisper ggml model (default from config)")
	fs.StringVar(&o.model, "m", "", "shorthand for -model")
	fs.StringVar(&o.language, "language", "", "two-letter language code (default from config)")
	fs.StringVar(&o.language, "l", "", "shorthand for -language")
	fs.StringVar(&o.configPath, "config", "", "path to config file (default: ~/.config/gostt-file/config.yaml)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	fs.IntVar(&o.threads, "threads", 0, "whisper threads (0 lets whisper choose)")
	fs.StringVar(&o.format, "format", "", "container reader: auto, wav, flac, mp3 or ffmpeg")
	fs.StringVar(&o.reference, "reference", "", "reference transcript to score the result against")
	fs.StringVar(&o.downloadModel, "download-model", "", "download a whisper model by name (e.g. base.en) and exit")
	fs.BoolVar(&o.initConfig, "init-config", false, "write the default config file and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			o.set["input"] = true
		case "m":
			o.set["model"] = true
		case "l":
			o.set["language"] = true
		default:
			o.set[f.Name] = true
		}
	})
	return o, nil
}

// apply overrides config values with explicitly given flags.
func (o *options) apply(cfg *config.Config) {
	if o.set["model"] {
		cfg.ModelPath = config.ExpandTilde(o.model)
	}
	if o.set["language"] {
		cfg.Language = o.language
	}
	if o.set["log-level"] {
		cfg.LogLevel = o.logLevel
	}
	if o.set["metrics-file"] {
		cfg.Metrics.Textfile = config.ExpandTilde(o.metricsFile)
	}
	if o.set["threads"] {
		cfg.Engine.Threads = o.threads
	}
	if o.set["format"] {
		cfg.Pipeline.Format = o.format
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "gostt-file: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.downloadModel != "":
		path, err := models.DownloadWhisper(ctx, opts.downloadModel, config.DefaultModelsDir(), stderr)
		if err != nil {
			fmt.Fprintf(stderr, "gostt-file: download model: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "Model ready: %s\n", path)
		return 0
	case opts.initConfig:
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(stderr, "gostt-file: init config: %v\n", err)
			return 1
		}
		if path == "" {
			fmt.Fprintf(stderr, "Config already exists at %s\n", config.DefaultConfigPath())
			return 0
		}
		fmt.Fprintf(stderr, "Wrote default config to %s\n", path)
		return 0
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "gostt-file: config: %v\n", err)
		return 1
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "gostt-file: config validation: %v\n", err)
		return 1
	}
	if opts.input == "" {
		fmt.Fprintln(stderr, "gostt-file: -input is required")
		return 1
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	m := metrics.NewMetrics()
	err = transcribeFile(ctx, opts, cfg, m, logger, stdout)
	m.RecordOutcome(err, time.Now())
	if cfg.Metrics.Textfile != "" {
		if werr := m.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Error("writing metrics textfile failed", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "gostt-file: %v\n", err)
		return 1
	}
	return 0
}

// transcribeFile loads the model, extracts the first audio stream of the
// input, runs whisper over it and prints one line per segment.
func transcribeFile(ctx context.Context, opts *options, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger, stdout io.Writer) error {
	format, err := container.ParseFormat(cfg.Pipeline.Format)
	if err != nil {
		return err
	}

	logger.Info("loading whisper model", "path", cfg.ModelPath)
	modelStart := time.Now()
	tr, err := transcribe.NewWhisperTranscriber(cfg.ModelPath, transcribe.EngineConfig{
		Threads:         cfg.Engine.Threads,
		PrintProgress:   cfg.Engine.PrintProgress,
		PrintRealtime:   cfg.Engine.PrintRealtime,
		PrintTimestamps: cfg.Engine.PrintTimestamps,
		PrintSpecial:    cfg.Engine.PrintSpecial,
	}, logger)
	if err != nil {
		return fmt.Errorf("%w (download one with: gostt-file -download-model base.en)", err)
	}
	defer tr.Close()
	logger.Info("model loaded", "elapsed", time.Since(modelStart).Round(time.Millisecond).String())

	res, err := pipeline.Extract(ctx, opts.input, pipeline.Options{
		Container: container.Options{
			Format:      format,
			PacketSize:  cfg.Pipeline.PacketSize,
			FFmpegPath:  cfg.FFmpeg.FFmpegPath,
			FFprobePath: cfg.FFmpeg.FFprobePath,
		},
		DecoderFrameSize:   cfg.Pipeline.DecoderFrameSize,
		ConverterFrameSize: cfg.Pipeline.ConverterFrameSize,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	m.RecordExtraction(res)

	start := time.Now()
	segments, err := tr.Transcribe(res.Buffer.Samples(), cfg.Language)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	m.RecordTranscription(len(segments), elapsed)
	logger.Info("transcription complete", "segments", len(segments), "elapsed", elapsed.Round(time.Millisecond).String())

	if err := writeSegments(stdout, segments); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if opts.reference != "" {
		ref, err := os.ReadFile(opts.reference)
		if err != nil {
			return fmt.Errorf("read reference transcript: %w", err)
		}
		score := transcribe.ScoreSegments(string(ref), segments)
		m.RecordWER(score)
		logger.Info("word error rate",
			"wer", score.WER,
			"substitutions", score.Substitutions,
			"insertions", score.Insertions,
			"deletions", score.Deletions,
			"reference_words", score.RefWords,
		)
	}
	return nil
}

// writeSegments prints one "[<start> - <end>]: <text>" line per segment.
func writeSegments(w io.Writer, segments []transcribe.Segment) error {
	for _, s := range segments {
		if _, err := fmt.Fprintln(w, s.String()); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file, use defaults
	return config.Default(), nil
}
