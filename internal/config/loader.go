package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/MrWong99/voicebridge/pkg/audio"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = DefaultMetricsAddr
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = DefaultCaptureRate
	}
	if cfg.Audio.DefaultFormat == "" {
		cfg.Audio.DefaultFormat = DefaultFormat
	}
	if cfg.Audio.OutboundShape == "" {
		cfg.Audio.OutboundShape = ShapeAudio
	}
	if cfg.Session.ReadyMode == "" {
		cfg.Session.ReadyMode = ReadyPipeline
	}
	if cfg.Session.ConnectTimeout == 0 {
		cfg.Session.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.CallLog.CostPerMinute == 0 {
		cfg.CallLog.CostPerMinute = DefaultCostPerMinute
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Assistant
	if cfg.Assistant.BaseURL != "" {
		u, err := url.Parse(cfg.Assistant.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("assistant.base_url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("assistant.base_url scheme %q is invalid; valid values: http, https, ws, wss", u.Scheme))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("assistant.base_url %q has no host", cfg.Assistant.BaseURL))
		}
	}
	if cfg.Assistant.AssistantID != "" && cfg.Assistant.BaseURL == "" {
		errs = append(errs, errors.New("assistant.base_url is required when assistant.assistant_id is set"))
	}
	if cfg.Assistant.OrganizationID == "" && cfg.Assistant.BaseURL != "" {
		slog.Warn("assistant.organization_id is empty; the server may reject the signaling request")
	}

	// Audio
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d must be positive", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.DefaultFormat != "" {
		if _, err := audio.ParseFormat(cfg.Audio.DefaultFormat); err != nil {
			errs = append(errs, fmt.Errorf("audio.default_format: %w", err))
		}
	}
	if cfg.Audio.OutboundShape != "" && !cfg.Audio.OutboundShape.IsValid() {
		errs = append(errs, fmt.Errorf("audio.outbound_shape %q is invalid; valid values: audio, media", cfg.Audio.OutboundShape))
	}

	// Session
	if cfg.Session.ReadyMode != "" && !cfg.Session.ReadyMode.IsValid() {
		errs = append(errs, fmt.Errorf("session.ready_mode %q is invalid; valid values: pipeline_ready, transport_open", cfg.Session.ReadyMode))
	}
	if cfg.Session.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout %s must not be negative", cfg.Session.ConnectTimeout))
	}

	// Call log
	if cfg.CallLog.CostPerMinute < 0 {
		errs = append(errs, fmt.Errorf("calllog.cost_per_minute %.4f must not be negative", cfg.CallLog.CostPerMinute))
	}
	if cfg.CallLog.PostgresDSN == "" {
		slog.Debug("calllog.postgres_dsn is empty; call logs are kept in memory")
	}

	return errors.Join(errs...)
}
