// Package config loads daemon configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all audio core configuration.
type Config struct {
	// Native system-capture bridge
	BridgeURL            string        `mapstructure:"bridge_url"`
	BridgeRequestTimeout time.Duration `mapstructure:"bridge_request_timeout"`

	// Capture
	MaxCaptureDuration time.Duration `mapstructure:"max_capture_duration"`
	FinalizeTimeout    time.Duration `mapstructure:"finalize_timeout"`
	MicSampleRate      int           `mapstructure:"mic_sample_rate"`
	MicFrameSize       int           `mapstructure:"mic_frame_size"`

	// Encoding
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
	EncodeTimeout time.Duration `mapstructure:"encode_timeout"`

	// Playback
	DefaultVolume float64 `mapstructure:"default_volume"`

	// Observability
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BridgeURL:            "ws://localhost:17493",
		BridgeRequestTimeout: 10 * time.Second,
		MaxCaptureDuration:   120 * time.Second,
		FinalizeTimeout:      30 * time.Second,
		MicSampleRate:        48000,
		MicFrameSize:         4800, // 100ms at 48kHz
		FFmpegPath:           "ffmpeg",
		EncodeTimeout:        20 * time.Second,
		DefaultVolume:        1.0,
		MetricsAddr:          "",
		LogLevel:             "info",
	}
}

// Load reads configuration from file and environment. Precedence is
// environment over config file over defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("voicebox-audio")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")

	v.SetEnvPrefix("VOICEBOX")
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// key is registered with its default. VOICEBOX_MIC_SAMPLE_RATE and
	// friends are invisible otherwise.
	defaults := map[string]any{
		"bridge_url":             cfg.BridgeURL,
		"bridge_request_timeout": cfg.BridgeRequestTimeout,
		"max_capture_duration":   cfg.MaxCaptureDuration,
		"finalize_timeout":       cfg.FinalizeTimeout,
		"mic_sample_rate":        cfg.MicSampleRate,
		"mic_frame_size":         cfg.MicFrameSize,
		"ffmpeg_path":            cfg.FFmpegPath,
		"encode_timeout":         cfg.EncodeTimeout,
		"default_volume":         cfg.DefaultVolume,
		"metrics_addr":           cfg.MetricsAddr,
		"log_level":              cfg.LogLevel,
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Environment values arrive as strings and must still land in int and
	// float fields.
	weak := func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}
	if err := v.Unmarshal(cfg, weak); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise surface as confusing
// runtime failures deep inside the capture or playback paths.
func (c *Config) Validate() error {
	if c.MaxCaptureDuration <= 0 {
		return fmt.Errorf("max_capture_duration must be positive, got %s", c.MaxCaptureDuration)
	}
	if c.FinalizeTimeout <= 0 {
		return fmt.Errorf("finalize_timeout must be positive, got %s", c.FinalizeTimeout)
	}
	if c.MicSampleRate <= 0 {
		return fmt.Errorf("mic_sample_rate must be positive, got %d", c.MicSampleRate)
	}
	if c.MicFrameSize <= 0 {
		return fmt.Errorf("mic_frame_size must be positive, got %d", c.MicFrameSize)
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 1 {
		return fmt.Errorf("default_volume must be in [0,1], got %f", c.DefaultVolume)
	}
	return nil
}

// ConfigDir returns the platform config directory for the daemon.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "voicebox")
}

// CacheDir returns the directory used for pidfiles and IPC state.
func CacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".cache", "voicebox")
}
