// Command voicebridge is a terminal voice chat client for a hosted voice
// assistant. It streams the microphone to the assistant over a WebSocket,
// plays the spoken replies and prints the live transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebridge/internal/calllog"
	"github.com/MrWong99/voicebridge/internal/calllog/postgres"
	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/health"
	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/protocol"
	"github.com/MrWong99/voicebridge/internal/resilience"
	"github.com/MrWong99/voicebridge/internal/session"
	"github.com/MrWong99/voicebridge/internal/transport/ws"
	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/device"
	"github.com/MrWong99/voicebridge/pkg/audio/device/native"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// outputFormat is the format the speaker is opened in. Decoded chunks are
// resampled to it.
var outputFormat = audio.DeviceFormat{SampleRate: 48000, Channels: 2}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voicebridge.yaml", "path to the YAML configuration file")
	assistantID := flag.String("assistant", "", "assistant to call (overrides assistant.assistant_id)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebridge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		}
		return 1
	}
	if *assistantID != "" {
		cfg.Assistant.AssistantID = *assistantID
	}
	if cfg.Assistant.AssistantID == "" || cfg.Assistant.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "voicebridge: assistant.base_url and an assistant ID are required")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voicebridge starting",
		"version", version,
		"config", *configPath,
		"assistant_id", cfg.Assistant.AssistantID,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Registry:       reg,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Call log ──────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.CallLog)
	if err != nil {
		slog.Error("failed to open call log", "err", err)
		return 1
	}
	defer closeStore()

	// ── Audio devices ─────────────────────────────────────────────────────────
	source, err := native.NewSource(logger)
	if err != nil {
		slog.Error("failed to initialise microphone backend", "err", err)
		return 1
	}
	defer func() {
		if err := source.Close(); err != nil {
			slog.Warn("microphone backend close error", "err", err)
		}
	}()

	speaker, err := native.NewPlayer(ctx, outputFormat)
	if err != nil {
		slog.Error("failed to initialise speaker", "err", err)
		return 1
	}
	player := resilience.NewPlayerFallback(speaker, "speaker", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 10 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Info("output backend state changed", "backend", name, "from", from, "to", to)
			},
		},
	})
	if cfg.Audio.ToneEnabled() {
		player.AddTone("tone", speaker, device.DefaultTone())
	}
	player.OnPlayed(func(backend string) {
		if backend == "tone" {
			metrics.FallbackTones.Add(context.Background(), 1)
		}
	})

	// ── Signaling ─────────────────────────────────────────────────────────────
	dialOpts := []ws.Option{
		ws.WithOrganizationID(cfg.Assistant.OrganizationID),
		ws.WithParser(protocol.Parser{
			DefaultFormat: cfg.Audio.Format(),
			LegacyFormat:  audio.FormatULaw8K,
		}),
		ws.WithLogger(logger),
	}
	for k, v := range cfg.Assistant.Headers {
		dialOpts = append(dialOpts, ws.WithHeader(k, v))
	}
	dialer := ws.NewDialer(cfg.Assistant.BaseURL, dialOpts...)

	// ── Session controller ────────────────────────────────────────────────────
	ctrl := session.NewController(session.ControllerConfig{
		Source:         source,
		Player:         player,
		Dialer:         dialer,
		Store:          store,
		Metrics:        metrics,
		Logger:         logger,
		ReadyMode:      session.ReadyMode(cfg.Session.ReadyMode),
		OutboundShape:  session.OutboundShape(cfg.Audio.OutboundShape),
		BlockSize:      cfg.Audio.BlockSize,
		SampleRate:     cfg.Audio.CaptureSampleRate,
		Capabilities:   capabilities(cfg.Audio, native.Prober{}),
		StartMuted:     cfg.Audio.StartMuted,
		OrganizationID: cfg.Assistant.OrganizationID,
		CostPerMinute:  cfg.CallLog.CostPerMinute,
		OnMessage:      printMessage,
		OnTick: func(d time.Duration) {
			slog.Debug("call timer", "elapsed", session.FormatDuration(d))
		},
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		applyDiff(d, level, ctrl)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, store)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "-" {
		srv := newHTTPServer(cfg.Server.MetricsAddr, reg, metrics, store, ctrl)
		g.Go(func() error {
			slog.Info("observability listener started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		return watchState(gctx, ctrl)
	})

	con := &console{ctrl: ctrl, assistantID: cfg.Assistant.AssistantID, timeout: cfg.Session.ConnectTimeout, out: os.Stdout}
	g.Go(func() error {
		if err := con.connect(gctx); err != nil {
			slog.Error("could not start the call", "err", err)
		}
		return con.run(gctx, os.Stdin)
	})

	err = g.Wait()
	ctrl.Hangup()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errQuit) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye", "last_call", ctrl.CallDuration())
	return 0
}

// openStore returns the Postgres call log when a DSN is configured and the
// in-memory one otherwise.
func openStore(ctx context.Context, cfg config.CallLogConfig) (calllog.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return calllog.NewMemStore(), func() {}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := postgres.NewStore(cctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// capabilities intersects the configured processing requests with what the
// platform backend supports.
func capabilities(a config.AudioConfig, p device.Prober) device.Capabilities {
	c := p.Probe()
	return device.Capabilities{
		EchoCancellation: c.EchoCancellation && a.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression && a.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl && a.AutoGainControl,
	}
}

func newHTTPServer(addr string, reg *prometheus.Registry, m *observe.Metrics, store calllog.Store, ctrl *session.Controller) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler(reg))

	checks := []health.Checker{
		health.PingChecker("calllog", store),
		{Name: "session", Check: func(context.Context) error {
			if st := ctrl.State(); st.Phase == session.PhaseError {
				return errors.New(st.Error)
			}
			return nil
		}},
	}
	health.New(checks, health.WithStatus(func() any { return snapshot(ctrl) })).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type statusDoc struct {
	SessionID    string `json:"session_id,omitempty"`
	State        string `json:"state"`
	Error        string `json:"error,omitempty"`
	Recording    bool   `json:"recording"`
	Muted        bool   `json:"muted"`
	CallDuration string `json:"call_duration"`
	QueueLength  int    `json:"queue_length"`
	Playing      bool   `json:"playing"`
	BlocksSent   uint64 `json:"blocks_sent"`
	Messages     int    `json:"messages"`
}

func snapshot(ctrl *session.Controller) statusDoc {
	st := ctrl.State()
	ps := ctrl.PlaybackStatus()
	return statusDoc{
		SessionID:    ctrl.SessionID(),
		State:        st.Phase.String(),
		Error:        st.Error,
		Recording:    ctrl.Recording(),
		Muted:        ctrl.Muted(),
		CallDuration: ctrl.CallDuration(),
		QueueLength:  ps.QueueLength,
		Playing:      ps.Playing,
		BlocksSent:   ctrl.CaptureStats().Sent,
		Messages:     len(ctrl.History()),
	}
}

// watchState logs connection state changes until ctx is done.
func watchState(ctx context.Context, ctrl *session.Controller) error {
	states, cancel := ctrl.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			switch st.Phase {
			case session.PhaseError:
				slog.Error("session failed", "err", st.Error)
			case session.PhaseConnected:
				slog.Info("connected, speak now")
			default:
				slog.Info("session state", "state", st.Phase)
			}
		}
	}
}

func applyDiff(d config.ConfigDiff, level *slog.LevelVar, ctrl *session.Controller) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StartMutedChanged {
		ctrl.SetMuted(d.NewStartMuted)
		slog.Info("microphone mute changed", "muted", d.NewStartMuted)
	}
	if d.CostChanged {
		ctrl.SetCostPerMinute(d.NewCostPerMinute)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

func printStartupSummary(cfg *config.Config, store calllog.Store) {
	storeName := "memory"
	if _, ok := store.(*postgres.Store); ok {
		storeName = "postgres"
	}
	metricsAddr := cfg.Server.MetricsAddr
	if metricsAddr == "-" {
		metricsAddr = "(disabled)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      voicebridge: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Assistant       : %-19s ║\n", truncate(cfg.Assistant.AssistantID, 19))
	fmt.Printf("║  Inbound format  : %-19s ║\n", cfg.Audio.Format())
	fmt.Printf("║  Outbound shape  : %-19s ║\n", cfg.Audio.OutboundShape)
	fmt.Printf("║  Ready on        : %-19s ║\n", cfg.Session.ReadyMode)
	fmt.Printf("║  Call log        : %-19s ║\n", storeName)
	fmt.Printf("║  Metrics addr    : %-19s ║\n", metricsAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println("commands: mute | unmute | text <message> | connect | stop | start | status | hangup | quit")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
