package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	ModelPath string         `yaml:"model_path"`
	Language  string         `yaml:"language"`
	LogLevel  string         `yaml:"log_level"`
	Engine    EngineConfig   `yaml:"engine"`
	Pipeline  PipelineConfig `yaml:"pipeline"`
	FFmpeg    FFmpegConfig   `yaml:"ffmpeg"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// EngineConfig holds whisper inference settings.
type EngineConfig struct {
	Threads         int  `yaml:"threads"` // 0 lets whisper choose
	PrintProgress   bool `yaml:"print_progress"`
	PrintRealtime   bool `yaml:"print_realtime"`
	PrintTimestamps bool `yaml:"print_timestamps"`
	PrintSpecial    bool `yaml:"print_special"`
}

// PipelineConfig holds extraction settings.
type PipelineConfig struct {
	Format             string `yaml:"format"` // "auto", "wav", "flac", "mp3" or "ffmpeg"
	PacketSize         int    `yaml:"packet_size"`
	DecoderFrameSize   int    `yaml:"decoder_frame_size"`
	ConverterFrameSize int    `yaml:"converter_frame_size"`
}

// FFmpegConfig locates the ffmpeg tools used for containers without a
// native reader.
type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// MetricsConfig holds run metrics settings.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // empty disables metrics output
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-file")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the directory downloaded models are stored in.
func DefaultModelsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "gostt-file", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ModelPath: filepath.Join(DefaultModelsDir(), "ggml-base.en.bin"),
		Language:  "en",
		LogLevel:  "info",
		Engine: EngineConfig{
			PrintProgress:   true,
			PrintRealtime:   true,
			PrintTimestamps: true,
		},
		Pipeline: PipelineConfig{
			Format:             "auto",
			PacketSize:         4096,
			DecoderFrameSize:   1024,
			ConverterFrameSize: 1024,
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ModelPath = ExpandTilde(cfg.ModelPath)
	cfg.FFmpeg.FFmpegPath = ExpandTilde(cfg.FFmpeg.FFmpegPath)
	cfg.FFmpeg.FFprobePath = ExpandTilde(cfg.FFmpeg.FFprobePath)
	cfg.Metrics.Textfile = ExpandTilde(cfg.Metrics.Textfile)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("model_path must not be empty")
	}

	if err := ValidateLanguage(c.Language); err != nil {
		return err
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Engine.Threads < 0 {
		return fmt.Errorf("engine.threads must be >= 0, got %d", c.Engine.Threads)
	}

	switch c.Pipeline.Format {
	case "auto", "wav", "flac", "mp3", "ffmpeg":
	default:
		return fmt.Errorf("pipeline.format must be auto, wav, flac, mp3, or ffmpeg, got %q", c.Pipeline.Format)
	}
	if c.Pipeline.PacketSize <= 0 {
		return fmt.Errorf("pipeline.packet_size must be > 0")
	}
	if c.Pipeline.DecoderFrameSize <= 0 {
		return fmt.Errorf("pipeline.decoder_frame_size must be > 0")
	}
	if c.Pipeline.ConverterFrameSize <= 0 {
		return fmt.Errorf("pipeline.converter_frame_size must be > 0")
	}

	if c.FFmpeg.FFmpegPath == "" || c.FFmpeg.FFprobePath == "" {
		return fmt.Errorf("ffmpeg.ffmpeg_path and ffmpeg.ffprobe_path must not be empty")
	}

	return nil
}

// ValidateLanguage checks that lang is a two-letter lowercase language code.
func ValidateLanguage(lang string) error {
	if len(lang) != 2 || lang[0] < 'a' || lang[0] > 'z' || lang[1] < 'a' || lang[1] > 'z' {
		return fmt.Errorf("language must be a two-letter lowercase code such as \"en\", got %q", lang)
	}
	return nil
}

// ParseLogLevel maps a log_level value onto a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigHeader = `# gostt-file configuration
#
# Flags given on the command line override these values.
# model_path: whisper ggml model (download with: gostt-file -download-model base.en)
# language: two-letter code passed to whisper
# pipeline.format: auto sniffs the file; ffmpeg handles any other container
# metrics.textfile: write Prometheus metrics here after each run

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultConfigHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// ExpandTilde replaces a leading ~ with the user's home directory.
func ExpandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
