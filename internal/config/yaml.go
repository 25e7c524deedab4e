// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"beatlight/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug      bool             `yaml:"debug"`      // Enable debug mode (forces DEBUG logging).
	LogLevel   string           `yaml:"log_level"`  // Logging level (e.g., "debug", "info", "warn", "error").
	Bridge     Bridge           `yaml:"bridge"`     // Bridge address, credentials and selected group.
	Streaming  StreamingConfig  `yaml:"streaming"`  // Streaming (entertainment) path settings.
	Dispatcher DispatcherConfig `yaml:"dispatcher"` // Outbound pacing and queue ceilings.
	Analysis   AnalysisConfig   `yaml:"analysis"`   // Feature extraction and color mapping.
	Audio      AudioConfig      `yaml:"audio"`      // Audio input settings.
	Telemetry  TelemetryConfig  `yaml:"telemetry"`  // Metrics and websocket telemetry.
}

// StreamingConfig holds settings for the low-latency streaming path.
type StreamingConfig struct {
	Port                   int           `yaml:"port"`                     // DTLS port on the bridge.
	UpdateRate             int           `yaml:"update_rate"`              // Frames per second sent while streaming.
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`          // Hard bound on session start.
	ConnectAttempts        int           `yaml:"connect_attempts"`         // Session creation attempts before falling back.
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"` // Send failures before demotion to fallback.
	ChannelCount           int           `yaml:"channel_count"`            // Channels used when the group reports none.
	KeepAlive              time.Duration `yaml:"keep_alive"`               // Keep-alive frame interval on an idle stream.
}

// DispatcherConfig holds the pacing and backpressure settings for outbound commands.
type DispatcherConfig struct {
	MinInterval       time.Duration `yaml:"min_interval"`       // Minimum spacing of ordinary commands per lane.
	AnimationInterval time.Duration `yaml:"animation_interval"` // Minimum spacing of animation steps per lane.
	ErrorCooldown     time.Duration `yaml:"error_cooldown"`     // Extra delay after a failed send.
	SoftCeiling       int           `yaml:"soft_ceiling"`       // Depth above which a manual clear is offered.
	HardCeiling       int           `yaml:"hard_ceiling"`       // Depth above which the queues are cleared.
	RateLimitAfter    int           `yaml:"rate_limit_after"`   // Consecutive failures treated as rate limiting.
	SendTimeout       time.Duration `yaml:"send_timeout"`       // Bound on one transport send.
	Coalesce          bool          `yaml:"coalesce"`           // A queued plain color is replaced by a newer one.
}

// AnalysisConfig holds the feature extraction and color mapping settings.
type AnalysisConfig struct {
	Mode            string        `yaml:"mode"`              // spectrum, intensity or pulse.
	Sensitivity     float64       `yaml:"sensitivity"`       // 1..10, higher lowers the beat threshold.
	HistorySize     int           `yaml:"history_size"`      // Beat history ring capacity.
	MinBeatInterval time.Duration `yaml:"min_beat_interval"` // Refractory period between beats.
	FFTSize         int           `yaml:"fft_size"`          // FFT points, power of two (bins = fft_size/2).
	FFTWindow       string        `yaml:"fft_window"`        // Window function name (e.g., "Hann", "Hamming").
	Smoothing       float64       `yaml:"smoothing"`         // Temporal smoothing of the spectrum (0-1).
	TickRate        int           `yaml:"tick_rate"`         // Audio tick loop cadence in Hz.
	FlashOnBeat     bool          `yaml:"flash_on_beat"`     // Run the beat flash animation on each beat.
}

// AudioConfig holds settings related to audio input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	InputFile       string  `yaml:"input_file"`        // WAV file to play instead of a live device.
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per capture callback.
	InputChannels   int     `yaml:"input_channels"`    // Channels to capture; the first one is analysed.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Noise gate threshold (0-1 of full scale).
}

// TelemetryConfig holds settings for exposing engine statistics.
type TelemetryConfig struct {
	MetricsAddress   string        `yaml:"metrics_address"`   // Prometheus listen address, empty disables.
	WebSocketAddress string        `yaml:"websocket_address"` // Stats websocket listen address, empty disables.
	Interval         time.Duration `yaml:"interval"`          // Stats push interval.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Debug:    false,
		LogLevel: "info",
		Streaming: StreamingConfig{
			Port:                   DefaultStreamingPort,
			UpdateRate:             DefaultUpdateRate,
			ConnectTimeout:         DefaultConnectTimeout,
			ConnectAttempts:        DefaultConnectAttempts,
			MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
			ChannelCount:           DefaultChannelCount,
			KeepAlive:              DefaultKeepAlive,
		},
		Dispatcher: DispatcherConfig{
			MinInterval:       DefaultMinInterval,
			AnimationInterval: DefaultAnimationInterval,
			ErrorCooldown:     DefaultErrorCooldown,
			SoftCeiling:       DefaultSoftCeiling,
			HardCeiling:       DefaultHardCeiling,
			RateLimitAfter:    DefaultRateLimitAfter,
			SendTimeout:       DefaultSendTimeout,
			Coalesce:          true,
		},
		Analysis: AnalysisConfig{
			Mode:            DefaultMode,
			Sensitivity:     DefaultSensitivity,
			HistorySize:     DefaultHistorySize,
			MinBeatInterval: DefaultMinBeatInterval,
			FFTSize:         DefaultFFTSize,
			FFTWindow:       DefaultFFTWindow,
			Smoothing:       DefaultSmoothing,
			TickRate:        DefaultTickRate,
		},
		Audio: AudioConfig{
			InputDevice:     MinDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultInputChannels,
			GateThreshold:   DefaultGateThreshold,
		},
		Telemetry: TelemetryConfig{
			MetricsAddress:   "",
			WebSocketAddress: "",
			Interval:         time.Second,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("beatlight.yaml", "config.yaml"). If no file is found,
// it uses built-in defaults. After loading defaults or from file, it applies environment
// variable overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = ResolvePath("")
		if path == "" {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return &cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ResolvePath returns path when it is set, otherwise the first default location
// that exists, or "" when there is none.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	for _, candidate := range []string{"beatlight.yaml", "config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Validate checks the engine settings. The bridge section is deliberately not
// validated here: discovery and registration run before a bridge is configured,
// and the session reports an invalid bridge when it is initialized.
func (c *Config) Validate() error {
	var errs []error

	// Streaming
	if c.Streaming.UpdateRate <= 0 {
		errs = append(errs, fmt.Errorf("streaming.update_rate must be positive, got %d", c.Streaming.UpdateRate))
	}
	if c.Streaming.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("streaming.connect_timeout must be positive"))
	}
	if c.Streaming.ConnectAttempts < 1 {
		errs = append(errs, errors.New("streaming.connect_attempts must be at least 1"))
	}
	if c.Streaming.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("streaming.max_consecutive_failures must be at least 1"))
	}
	if c.Streaming.ChannelCount < 1 || c.Streaming.ChannelCount > 20 {
		errs = append(errs, fmt.Errorf("streaming.channel_count must be within 1..20, got %d", c.Streaming.ChannelCount))
	}

	// Dispatcher
	if c.Dispatcher.MinInterval <= 0 || c.Dispatcher.AnimationInterval <= 0 {
		errs = append(errs, errors.New("dispatcher intervals must be positive"))
	}
	if c.Dispatcher.ErrorCooldown < 0 {
		errs = append(errs, errors.New("dispatcher.error_cooldown must not be negative"))
	}
	if c.Dispatcher.SoftCeiling < 1 || c.Dispatcher.HardCeiling <= c.Dispatcher.SoftCeiling {
		errs = append(errs, fmt.Errorf("dispatcher ceilings must satisfy 0 < soft (%d) < hard (%d)",
			c.Dispatcher.SoftCeiling, c.Dispatcher.HardCeiling))
	}
	if c.Dispatcher.RateLimitAfter < 1 {
		errs = append(errs, errors.New("dispatcher.rate_limit_after must be at least 1"))
	}
	if c.Dispatcher.SendTimeout <= 0 {
		errs = append(errs, errors.New("dispatcher.send_timeout must be positive"))
	}

	// Analysis
	if c.Analysis.Sensitivity < MinSensitivity || c.Analysis.Sensitivity > MaxSensitivity {
		errs = append(errs, fmt.Errorf("analysis.sensitivity must be within %.0f..%.0f, got %.2f",
			MinSensitivity, MaxSensitivity, c.Analysis.Sensitivity))
	}
	if c.Analysis.HistorySize < 5 {
		errs = append(errs, fmt.Errorf("analysis.history_size must be at least 5, got %d", c.Analysis.HistorySize))
	}
	if !bitint.IsPowerOfTwo(c.Analysis.FFTSize) {
		errs = append(errs, fmt.Errorf("analysis.fft_size must be a power of 2, got %d (try %d)",
			c.Analysis.FFTSize, bitint.NextPowerOfTwo(c.Analysis.FFTSize)))
	}
	if c.Analysis.Smoothing < 0 || c.Analysis.Smoothing >= 1 {
		errs = append(errs, fmt.Errorf("analysis.smoothing must be within [0,1), got %.2f", c.Analysis.Smoothing))
	}
	if c.Analysis.TickRate <= 0 {
		errs = append(errs, errors.New("analysis.tick_rate must be positive"))
	}

	// Audio
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be within %d..%d, got %.0f",
			MinSampleRate, MaxSampleRate, c.Audio.SampleRate))
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.InputChannels <= 0 {
		errs = append(errs, errors.New("audio.frames_per_buffer and audio.input_channels must be positive"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides lets deployments inject credentials and tuning without editing
// the YAML file. ENV_* variables always win over file values.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok && val != "" {
		cfg.LogLevel = val
	}

	// ENV_BRIDGE_{...}
	// These are specific to the bridge and its credentials.

	if val, ok := os.LookupEnv("ENV_BRIDGE_ADDRESS"); ok {
		cfg.Bridge.Address = val
	}
	if val, ok := os.LookupEnv("ENV_BRIDGE_APPLICATION_KEY"); ok {
		cfg.Bridge.Credentials.ApplicationKey = val
	}
	if val, ok := os.LookupEnv("ENV_BRIDGE_SHARED_SECRET"); ok {
		cfg.Bridge.Credentials.SharedSecret = val
	}
	if val, ok := os.LookupEnv("ENV_BRIDGE_GROUP"); ok {
		cfg.Bridge.SelectedGroupID = val
	}

	// ENV_SENSITIVITY
	if val, ok := os.LookupEnv("ENV_SENSITIVITY"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Analysis.Sensitivity = fVal
		}
	}
	// ENV_UPDATE_RATE
	if val, ok := os.LookupEnv("ENV_UPDATE_RATE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Streaming.UpdateRate = iVal
		}
	}
}
