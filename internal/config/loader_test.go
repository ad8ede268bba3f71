package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/pkg/audio"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.MetricsAddr != config.DefaultMetricsAddr {
		t.Errorf("metrics_addr = %q", cfg.Server.MetricsAddr)
	}
	if cfg.Audio.BlockSize != 4096 || cfg.Audio.CaptureSampleRate != 16000 {
		t.Errorf("audio defaults = %d/%d, want 4096/16000", cfg.Audio.BlockSize, cfg.Audio.CaptureSampleRate)
	}
	if cfg.Audio.Format() != audio.FormatPCM16_16K {
		t.Errorf("format = %v, want pcm16", cfg.Audio.Format())
	}
	if cfg.Audio.OutboundShape != config.ShapeAudio {
		t.Errorf("outbound_shape = %q, want audio", cfg.Audio.OutboundShape)
	}
	if !cfg.Audio.ToneEnabled() {
		t.Error("fallback tone should default to enabled")
	}
	if cfg.Session.ReadyMode != config.ReadyPipeline {
		t.Errorf("ready_mode = %q, want pipeline_ready", cfg.Session.ReadyMode)
	}
	if cfg.CallLog.CostPerMinute != config.DefaultCostPerMinute {
		t.Errorf("cost_per_minute = %v", cfg.CallLog.CostPerMinute)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: debug
  metrics_addr: "127.0.0.1:9100"
assistant:
  base_url: https://api.example.com
  assistant_id: asst-42
  organization_id: org-7
  headers:
    Authorization: Bearer abc
audio:
  block_size: 2048
  capture_sample_rate: 8000
  default_format: ulaw_8000
  outbound_shape: media
  echo_cancellation: true
  noise_suppression: true
  auto_gain_control: true
  start_muted: true
  fallback_tone: false
session:
  ready_mode: transport_open
  connect_timeout: 5s
calllog:
  postgres_dsn: postgres://localhost/voicebridge
  cost_per_minute: 0.02
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Assistant.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("headers = %v", cfg.Assistant.Headers)
	}
	if cfg.Audio.Format() != audio.FormatULaw8K {
		t.Errorf("format = %v, want ulaw", cfg.Audio.Format())
	}
	if cfg.Audio.OutboundShape != config.ShapeMedia {
		t.Errorf("outbound_shape = %q", cfg.Audio.OutboundShape)
	}
	if cfg.Audio.ToneEnabled() {
		t.Error("fallback_tone: false was ignored")
	}
	if !cfg.Audio.StartMuted || !cfg.Audio.EchoCancellation {
		t.Errorf("audio flags = %+v", cfg.Audio)
	}
	if cfg.Session.ConnectTimeout != 5*time.Second {
		t.Errorf("connect_timeout = %s, want 5s", cfg.Session.ConnectTimeout)
	}
	if cfg.CallLog.CostPerMinute != 0.02 {
		t.Errorf("cost_per_minute = %v", cfg.CallLog.CostPerMinute)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("audio:\n  blocksize: 10\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"bad scheme", "assistant:\n  base_url: ftp://x\n", "scheme"},
		{"missing host", "assistant:\n  base_url: https://\n", "no host"},
		{"id without url", "assistant:\n  assistant_id: a\n", "base_url is required"},
		{"negative block size", "audio:\n  block_size: -1\n", "audio.block_size"},
		{"bad format", "audio:\n  default_format: opus_48000\n", "audio.default_format"},
		{"bad shape", "audio:\n  outbound_shape: json\n", "audio.outbound_shape"},
		{"bad ready mode", "session:\n  ready_mode: eventually\n", "session.ready_mode"},
		{"negative cost", "calllog:\n  cost_per_minute: -1\n", "calllog.cost_per_minute"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
session:
  ready_mode: eventually
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "session.ready_mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voicebridge.yaml")
	if err := os.WriteFile(path, []byte(baseYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.AssistantID != "asst-1" {
		t.Errorf("assistant_id = %q", cfg.Assistant.AssistantID)
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) returned nil error")
	}
}
