// Package config provides the configuration schema and loader for the
// voicebridge client.
package config

import (
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ReadyMode selects which event promotes a session to connected.
type ReadyMode string

const (
	// ReadyPipeline waits for the server's pipeline_ready event.
	ReadyPipeline ReadyMode = "pipeline_ready"

	// ReadyTransportOpen treats the open transport as ready.
	ReadyTransportOpen ReadyMode = "transport_open"
)

// IsValid reports whether m is a recognised ready mode.
func (m ReadyMode) IsValid() bool {
	return m == ReadyPipeline || m == ReadyTransportOpen
}

// OutboundShape selects the JSON shape of outbound microphone frames.
type OutboundShape string

const (
	// ShapeAudio sends {"type":"audio","data":...}.
	ShapeAudio OutboundShape = "audio"

	// ShapeMedia sends the legacy {"event":"media","media":{"payload":...}}.
	ShapeMedia OutboundShape = "media"
)

// IsValid reports whether s is a recognised outbound shape.
func (s OutboundShape) IsValid() bool {
	return s == ShapeAudio || s == ShapeMedia
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultLogLevel       = LogInfo
	DefaultMetricsAddr    = ":9090"
	DefaultBlockSize      = 4096
	DefaultCaptureRate    = 16000
	DefaultFormat         = audio.WirePCM16_16K
	DefaultCostPerMinute  = 0.01
	DefaultConnectTimeout = 15 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Assistant AssistantConfig `yaml:"assistant"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	CallLog   CallLogConfig   `yaml:"calllog"`
}

// ServerConfig holds logging and the local observability listener.
type ServerConfig struct {
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz.
	// Set to "-" to disable the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// AssistantConfig identifies the remote voice assistant.
type AssistantConfig struct {
	// BaseURL is the http(s) origin of the assistant backend.
	BaseURL string `yaml:"base_url"`

	AssistantID    string `yaml:"assistant_id"`
	OrganizationID string `yaml:"organization_id"`

	// Headers are added to the WebSocket handshake (e.g. Authorization).
	Headers map[string]string `yaml:"headers"`
}

// AudioConfig shapes capture and playback.
type AudioConfig struct {
	BlockSize         int           `yaml:"block_size"`
	CaptureSampleRate int           `yaml:"capture_sample_rate"`
	DefaultFormat     string        `yaml:"default_format"`
	OutboundShape     OutboundShape `yaml:"outbound_shape"`
	EchoCancellation  bool          `yaml:"echo_cancellation"`
	NoiseSuppression  bool          `yaml:"noise_suppression"`
	AutoGainControl   bool          `yaml:"auto_gain_control"`
	StartMuted        bool          `yaml:"start_muted"`

	// FallbackTone enables the short beep played when the speaker refuses a
	// chunk.
	FallbackTone *bool `yaml:"fallback_tone"`
}

// ToneEnabled reports whether the fallback tone is on. It defaults to true.
func (a AudioConfig) ToneEnabled() bool {
	return a.FallbackTone == nil || *a.FallbackTone
}

// Format parses DefaultFormat. Callers should run [Validate] first.
func (a AudioConfig) Format() audio.Format {
	f, err := audio.ParseFormat(a.DefaultFormat)
	if err != nil {
		return audio.FormatPCM16_16K
	}
	return f
}

// SessionConfig tunes the chat session controller.
type SessionConfig struct {
	ReadyMode      ReadyMode     `yaml:"ready_mode"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// CallLogConfig configures call persistence. An empty PostgresDSN keeps call
// logs in memory.
type CallLogConfig struct {
	PostgresDSN   string  `yaml:"postgres_dsn"`
	CostPerMinute float64 `yaml:"cost_per_minute"`
}
