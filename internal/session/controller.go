package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebridge/internal/calllog"
	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/protocol"
	"github.com/MrWong99/voicebridge/internal/transport"
	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/capture"
	"github.com/MrWong99/voicebridge/pkg/audio/device"
	"github.com/MrWong99/voicebridge/pkg/audio/playback"
)

var (
	// ErrActive is returned by Connect while a session is still live.
	ErrActive = errors.New("session: a session is already active")

	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAborted is returned by Connect when Disconnect or Hangup interrupted
	// it. Everything acquired so far has been released.
	ErrAborted = errors.New("session: connect aborted")
)

// storeTimeout bounds every call log write.
const storeTimeout = 5 * time.Second

// defaultGreeting is shown when the greeting frame carries no text.
const defaultGreeting = "Assistant is ready!"

// ReadyMode selects which event promotes a session to connected.
type ReadyMode string

const (
	// ReadyPipeline waits for the assistant's pipeline_ready message.
	ReadyPipeline ReadyMode = "pipeline_ready"

	// ReadyTransportOpen treats the open transport as ready.
	ReadyTransportOpen ReadyMode = "transport_open"
)

// OutboundShape selects how microphone blocks are wrapped on the wire.
type OutboundShape string

const (
	ShapeAudio OutboundShape = "audio"
	ShapeMedia OutboundShape = "media"
)

// ControllerConfig configures a [Controller].
type ControllerConfig struct {
	// Source opens the microphone. Required.
	Source device.Source

	// Player plays decoded assistant audio. Required.
	Player device.Player

	// Dialer opens the signaling channel. Required.
	Dialer transport.Dialer

	// Store records call logs and final transcript lines. May be nil.
	Store calllog.Store

	// Metrics receives pipeline and lifecycle metrics. May be nil.
	Metrics *observe.Metrics

	Logger *slog.Logger

	ReadyMode     ReadyMode
	OutboundShape OutboundShape

	// BlockSize and SampleRate shape capture framing; zero uses the capture
	// package defaults.
	BlockSize  int
	SampleRate int

	// Capabilities is the probed platform capability set.
	Capabilities device.Capabilities

	// StartMuted mutes the microphone of every new session.
	StartMuted bool

	OrganizationID string

	// CostPerMinute prices logged calls. Defaults to
	// [calllog.DefaultCostPerMinute].
	CostPerMinute float64

	// OnMessage is called after every chat history change. It runs on the
	// session's dispatch goroutine and must not block. May be nil.
	OnMessage func(ChatMessage)

	// OnTick is called once per second while connected with the elapsed
	// call time. May be nil.
	OnTick func(time.Duration)
}

// Controller orchestrates one chat session at a time: it acquires the
// microphone and the signaling channel, wires capture to the transport and
// the transport to the playback queue, drives the [Machine] and keeps the
// chat [History].
//
// Every resource of a session is created by Connect and released by the
// teardown triggered by Disconnect, Hangup, a remote call end or an error.
// All methods are safe for concurrent use.
type Controller struct {
	cfg     ControllerConfig
	log     *slog.Logger
	machine *Machine
	history *History
	muted   atomic.Bool

	mu            sync.Mutex
	cur           *live
	gen           uint64 // bumped by Disconnect/Hangup to abort a pending Connect
	connectCancel context.CancelFunc
	lastCall      time.Duration
	cost          float64
}

// live is the per-session resource set. Nothing in it outlives teardown.
type live struct {
	id          string
	assistantID string
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	tr       transport.Transport
	pipeline *capture.Pipeline
	queue    *playback.Queue

	capMu   sync.Mutex
	stream  device.Stream // acquired by Connect, handed to the pipeline on first record
	stopped bool

	// Guarded by Controller.mu.
	startedAt   time.Time
	connectedAt time.Time
	closing     bool
	released    chan struct{}
}

// NewController creates a [Controller] in [PhaseIdle].
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadyMode == "" {
		cfg.ReadyMode = ReadyPipeline
	}
	if cfg.OutboundShape == "" {
		cfg.OutboundShape = ShapeAudio
	}
	if cfg.CostPerMinute <= 0 {
		cfg.CostPerMinute = calllog.DefaultCostPerMinute
	}
	c := &Controller{
		cfg:     cfg,
		log:     cfg.Logger,
		machine: NewMachine(),
		history: NewHistory(),
		cost:    cfg.CostPerMinute,
	}
	c.muted.Store(cfg.StartMuted)
	c.machine.OnTransition(func(from, to Phase) {
		c.log.Debug("session: state transition", "from", from, "to", to)
		if cfg.Metrics != nil {
			cfg.Metrics.RecordTransition(context.Background(), from.String(), to.String())
		}
	})
	return c
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState { return c.machine.Current() }

// Subscribe streams connection state changes. See [Machine.Subscribe].
func (c *Controller) Subscribe() (<-chan ConnectionState, func()) { return c.machine.Subscribe() }

// History returns the chat transcript in timestamp order.
func (c *Controller) History() []ChatMessage { return c.history.Snapshot() }

// SessionID returns the ID of the live session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}

// Connect starts a session with assistantID. The microphone and the
// signaling channel are acquired in parallel; if either fails both are
// released before Connect returns, the state moves to error and the
// [*capture.DeviceError] or [*transport.TransportError] is returned.
//
// On success the state is initializing until the assistant reports
// pipeline_ready, or connected at once in [ReadyTransportOpen] mode.
// Recording starts automatically on connected.
func (c *Controller) Connect(ctx context.Context, assistantID string) error {
	c.mu.Lock()
	if c.cur != nil || c.machine.Phase() == PhaseConnecting {
		c.mu.Unlock()
		return ErrActive
	}
	if err := c.machine.Transition(PhaseConnecting, ""); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("session: connect: %w", err)
	}
	c.gen++
	gen := c.gen
	connectCtx, cancel := context.WithCancel(ctx)
	c.connectCancel = cancel
	c.mu.Unlock()
	defer cancel()

	ctx, span := observe.StartSpan(connectCtx, "session.connect",
		trace.WithAttributes(attribute.String("assistant_id", assistantID)))
	defer span.End()
	started := time.Now()

	l := &live{
		id:          uuid.NewString(),
		assistantID: assistantID,
		released:    make(chan struct{}),
		startedAt:   started,
	}
	l.log = observe.Logger(ctx, c.log).With("session_id", l.id, "assistant_id", assistantID)
	snd := &sender{shape: c.cfg.OutboundShape}
	l.pipeline = capture.New(c.cfg.Source, snd, c.captureOptions(l)...)

	var (
		stream device.Stream
		tr     transport.Transport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := c.cfg.Source.Open(gctx, l.pipeline.Constraints())
		if err != nil {
			return &capture.DeviceError{Err: err}
		}
		stream = s
		return nil
	})
	g.Go(func() error {
		t, err := c.cfg.Dialer.Dial(gctx, assistantID)
		if err != nil {
			var te *transport.TransportError
			if !errors.As(err, &te) {
				err = &transport.TransportError{Op: "dial", Err: err}
			}
			return err
		}
		tr = t
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	aborted := gen != c.gen
	if err != nil || aborted {
		if !aborted {
			c.connectCancel = nil
			_ = c.machine.Transition(PhaseError, err.Error())
		}
		c.mu.Unlock()
		release(l.log, stream, tr)

		if aborted {
			span.SetStatus(codes.Error, "aborted")
			l.log.Info("session: connect aborted")
			return ErrAborted
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.log.Warn("session: connect failed", "err", err)
		return err
	}

	snd.tr = tr
	l.tr = tr
	l.stream = stream
	l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	l.queue = playback.New(c.cfg.Player, c.queueOptions(l)...)
	l.pipeline.SetMuted(c.muted.Load())
	c.cur = l
	c.connectCancel = nil

	next := PhaseInitializing
	if c.cfg.ReadyMode == ReadyTransportOpen {
		next = PhaseConnected
	}
	_ = c.machine.Transition(next, "")
	if next == PhaseConnected {
		c.markConnectedLocked(l)
	}
	c.mu.Unlock()

	l.log.Info("session: transport open", "state", next, "took", time.Since(started))
	go c.dispatch(l)
	if next == PhaseConnected {
		c.onConnected(l)
	}
	return nil
}

// Disconnect ends the session but keeps the chat history. It is idempotent,
// safe from any state including mid-connect, and leaves the state closed.
func (c *Controller) Disconnect() { c.end(false) }

// Hangup ends the session and clears the chat history. Like Disconnect it is
// idempotent and leaves the state closed.
func (c *Controller) Hangup() { c.end(true) }

func (c *Controller) end(clearHistory bool) {
	c.mu.Lock()
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	c.gen++
	l := c.cur
	c.mu.Unlock()

	if l != nil {
		c.teardown(l, ending{phase: PhaseClosed, status: calllog.StatusCompleted})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		_ = c.machine.Transition(PhaseClosed, "")
	}
	if clearHistory {
		c.history.Clear()
	}
}

// SetMuted mutes or unmutes the microphone. While muted, blocks are still
// captured but not sent. The setting carries over to later sessions.
func (c *Controller) SetMuted(muted bool) {
	c.muted.Store(muted)
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l != nil {
		l.pipeline.SetMuted(muted)
	}
}

// SetCostPerMinute changes the price applied to calls that end from now on.
func (c *Controller) SetCostPerMinute(v float64) {
	if v <= 0 {
		v = calllog.DefaultCostPerMinute
	}
	c.mu.Lock()
	c.cost = v
	c.mu.Unlock()
}

// ToggleMute flips the mute flag and returns the new value.
func (c *Controller) ToggleMute() bool {
	for {
		old := c.muted.Load()
		if c.muted.CompareAndSwap(old, !old) {
			c.SetMuted(!old)
			return !old
		}
	}
}

// Muted reports the mute flag.
func (c *Controller) Muted() bool { return c.muted.Load() }

// Recording reports whether the microphone is streaming.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	return l != nil && l.pipeline.Running()
}

// CaptureStats returns the block counters of the live session.
func (c *Controller) CaptureStats() capture.Stats {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l == nil {
		return capture.Stats{}
	}
	return l.pipeline.Stats()
}

// PlaybackStatus returns the playback queue status of the live session.
func (c *Controller) PlaybackStatus() playback.Status {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l == nil {
		return playback.Status{}
	}
	return l.queue.Status()
}

// StartRecording starts capture on a connected session. It is a no-op while
// already recording. A microphone failure ends the session in error.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	l := c.cur
	ok := l != nil && !l.closing && c.machine.Phase() == PhaseConnected
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return c.startCapture(l)
}

// StopRecording stops capture and sends the stop control event. The session
// stays connected.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	l.capMu.Lock()
	defer l.capMu.Unlock()
	return l.pipeline.Stop()
}

// SendText sends a typed chat line and records it in the history.
func (c *Controller) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l == nil || !l.tr.Connected() {
		return ErrNotConnected
	}
	if err := l.tr.Send(ctx, protocol.Text(text)); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}
	c.record(l, ChatMessage{Kind: KindUser, Content: text, IsFinal: true})
	return nil
}

// CallDuration returns the elapsed call time as mm:ss. Between calls it
// reports the length of the last one.
func (c *Controller) CallDuration() string {
	return FormatDuration(c.Elapsed())
}

// Elapsed returns the elapsed time of the live call or the length of the
// last one.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && !c.cur.connectedAt.IsZero() {
		return time.Since(c.cur.connectedAt)
	}
	return c.lastCall
}

// FormatDuration renders d as mm:ss, truncated to whole seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// ─── Inbound dispatch ─────────────────────────────────────────────────────────

// dispatch feeds every inbound message of l to handle until the transport's
// event channel closes.
func (c *Controller) dispatch(l *live) {
	for msg := range l.tr.Events() {
		c.handle(l, msg)
	}
}

// handle is the single entry point for inbound messages.
func (c *Controller) handle(l *live, msg protocol.Inbound) {
	c.mu.Lock()
	stale := c.cur != l || l.closing
	c.mu.Unlock()
	if stale {
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordInbound(l.ctx, inboundKind(msg))
	}

	switch m := msg.(type) {
	case protocol.AudioMsg:
		if l.queue.Idle() {
			c.record(l, ChatMessage{Kind: KindAudio, Content: m.Chunk.Format.String(), IsFinal: true})
		}
		l.queue.Enqueue(m.Chunk)

	case protocol.PipelineReady:
		c.mu.Lock()
		promote := c.cur == l && !l.closing && c.machine.Phase() == PhaseInitializing
		if promote {
			_ = c.machine.Transition(PhaseConnected, "")
			c.markConnectedLocked(l)
		}
		c.mu.Unlock()
		if promote {
			c.onConnected(l)
		}

	case protocol.TextMsg:
		c.handleText(l, m)

	case protocol.Greeting:
		c.record(l, ChatMessage{Kind: KindSystem, Content: firstNonEmpty(m.Message, defaultGreeting), IsFinal: true})

	case protocol.CallEnded:
		content := firstNonEmpty(m.Message, m.Reason, "Call ended")
		c.record(l, ChatMessage{Kind: KindCallEnded, Content: content, IsFinal: true})
		l.log.Info("session: call ended by assistant", "reason", m.Reason)
		c.teardown(l, ending{phase: PhaseClosed, status: calllog.StatusCompleted})

	case protocol.ServerError:
		c.record(l, ChatMessage{Kind: KindError, Content: m.Message, IsFinal: true})
		c.fail(l, errors.New(m.Message))

	case protocol.TransportFailure:
		c.fail(l, m.Err)

	case protocol.Closed:
		c.record(l, ChatMessage{Kind: KindSystem, Content: "Connection closed", IsFinal: true})
		c.teardown(l, ending{phase: PhaseClosed, status: calllog.StatusCompleted})

	case protocol.StreamMarker:
		l.log.Debug("session: media stream marker", "started", m.Started)

	case protocol.Unknown:
		l.log.Debug("session: ignoring unknown message", "type", m.Type)
	}
}

func (c *Controller) handleText(l *live, m protocol.TextMsg) {
	switch m.Kind {
	case protocol.KindUserStreaming, protocol.KindAssistantStreaming:
		msg := c.history.Stream(MessageKind(m.Kind), m.Content, m.IsFinal)
		c.publish(l, msg)

	case protocol.KindUser, protocol.KindAssistant:
		streamKind := KindUserStreaming
		if m.Kind == protocol.KindAssistant {
			streamKind = KindAssistantStreaming
		}
		// A final line closes the streamed message of the same speaker.
		if msg, ok := c.history.Finalize(streamKind, m.Content); ok {
			c.publish(l, msg)
			return
		}
		c.record(l, ChatMessage{Kind: MessageKind(m.Kind), Content: m.Content, IsFinal: true})

	case protocol.KindSystem:
		c.record(l, ChatMessage{Kind: KindSystem, Content: m.Content, IsFinal: true})

	default:
		c.record(l, ChatMessage{Kind: KindText, Content: m.Content, IsFinal: true})
	}
}

// record adds m to the history and publishes it.
func (c *Controller) record(l *live, m ChatMessage) {
	c.publish(l, c.history.Add(m))
}

// publish notifies OnMessage and persists final spoken lines.
func (c *Controller) publish(l *live, m ChatMessage) {
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(m)
	}
	speaker := m.Kind.Speaker()
	if c.cfg.Store == nil || speaker == "" || !m.IsFinal || m.Content == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := c.cfg.Store.WriteTranscript(ctx, calllog.TranscriptEntry{
		SessionID: l.id,
		Speaker:   speaker,
		Text:      m.Content,
		Timestamp: m.Timestamp,
	})
	if err != nil {
		l.log.Warn("session: failed to persist transcript line", "err", err)
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// markConnectedLocked stamps the call start. c.mu must be held.
func (c *Controller) markConnectedLocked(l *live) {
	l.connectedAt = time.Now()
	if m := c.cfg.Metrics; m != nil {
		m.ActiveSessions.Add(l.ctx, 1)
		m.ConnectDuration.Record(l.ctx, l.connectedAt.Sub(l.startedAt).Seconds())
	}
}

// onConnected runs the connected side effects outside c.mu: call log start,
// the call timer and auto-record.
func (c *Controller) onConnected(l *live) {
	l.log.Info("session: connected")

	if c.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := c.cfg.Store.StartCall(ctx, calllog.Call{
			SessionID:      l.id,
			AssistantID:    l.assistantID,
			OrganizationID: c.cfg.OrganizationID,
			Direction:      calllog.DirectionWeb,
			Status:         calllog.StatusInitiated,
			StartedAt:      l.connectedAt,
		})
		cancel()
		if err != nil {
			l.log.Warn("session: failed to log call start", "err", err)
		}
	}

	if c.cfg.OnTick != nil {
		go c.tick(l)
	}

	if err := c.startCapture(l); err != nil {
		l.log.Warn("session: auto-record failed", "err", err)
	}
}

// tick reports the elapsed call time every second until the session ends.
func (c *Controller) tick(l *live) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case now := <-t.C:
			c.cfg.OnTick(now.Sub(l.connectedAt))
		}
	}
}

// startCapture starts l's pipeline, using the stream acquired by Connect the
// first time. A device failure ends the session in error.
func (c *Controller) startCapture(l *live) error {
	l.capMu.Lock()
	if l.stopped {
		l.capMu.Unlock()
		return ErrNotConnected
	}
	if l.pipeline.Running() {
		l.capMu.Unlock()
		return nil
	}
	var err error
	if stream := l.stream; stream != nil {
		l.stream = nil
		err = l.pipeline.StartWithStream(l.ctx, stream)
	} else {
		err = l.pipeline.Start(l.ctx)
	}
	l.capMu.Unlock()

	if err != nil {
		c.fail(l, err)
		return err
	}
	return nil
}

type ending struct {
	phase  Phase
	msg    string
	status calllog.Status
}

func (c *Controller) fail(l *live, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	l.log.Error("session: failed", "err", err)
	c.teardown(l, ending{phase: PhaseError, msg: msg, status: calllog.StatusFailed})
}

// teardown releases every resource of l exactly once and then moves the
// state to e.phase. Concurrent callers wait until the release finished.
func (c *Controller) teardown(l *live, e ending) {
	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return
	}
	if l.closing {
		c.mu.Unlock()
		<-l.released
		return
	}
	l.closing = true
	connectedAt := l.connectedAt
	c.mu.Unlock()

	l.cancel()

	l.capMu.Lock()
	l.stopped = true
	if err := l.pipeline.Stop(); err != nil {
		l.log.Debug("session: stopping capture", "err", err)
	}
	if l.stream != nil {
		if err := l.stream.Close(); err != nil {
			l.log.Debug("session: closing unused microphone stream", "err", err)
		}
		l.stream = nil
	}
	l.capMu.Unlock()

	l.queue.Clear()
	if err := l.queue.Close(); err != nil {
		l.log.Debug("session: closing playback queue", "err", err)
	}
	if err := l.tr.Close(); err != nil {
		l.log.Debug("session: closing transport", "err", err)
	}
	for _, kind := range []MessageKind{KindUserStreaming, KindAssistantStreaming} {
		if m, ok := c.history.Finalize(kind, ""); ok {
			c.publish(l, m)
		}
	}

	var d time.Duration
	if !connectedAt.IsZero() {
		d = time.Since(connectedAt)
		c.logCallEnd(l, e.status, d)
		if m := c.cfg.Metrics; m != nil {
			ctx := context.Background()
			m.ActiveSessions.Add(ctx, -1)
			m.CallDuration.Record(ctx, d.Seconds())
		}
	}

	c.mu.Lock()
	c.cur = nil
	c.lastCall = d
	_ = c.machine.Transition(e.phase, e.msg)
	c.mu.Unlock()
	close(l.released)

	l.log.Info("session: ended", "state", e.phase, "duration", FormatDuration(d))
}

func (c *Controller) logCallEnd(l *live, status calllog.Status, d time.Duration) {
	if c.cfg.Store == nil {
		return
	}
	c.mu.Lock()
	perMinute := c.cost
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := c.cfg.Store.EndCall(ctx, l.id, calllog.End{
		Status:   status,
		EndedAt:  time.Now(),
		Duration: d,
		CostUSD:  calllog.Cost(d, perMinute),
	})
	if err != nil {
		l.log.Warn("session: failed to log call end", "err", err)
	}
}

// ─── Wiring helpers ───────────────────────────────────────────────────────────

func (c *Controller) captureOptions(l *live) []capture.Option {
	opts := []capture.Option{
		capture.WithBlockSize(c.cfg.BlockSize),
		capture.WithSampleRate(c.cfg.SampleRate),
		capture.WithCapabilities(c.cfg.Capabilities),
		capture.WithLogger(l.log),
		capture.WithStreamEndHandler(func(err error) { go c.fail(l, err) }),
	}
	if m := c.cfg.Metrics; m != nil {
		opts = append(opts, capture.WithBlockHandler(func(ev capture.BlockEvent) {
			m.RecordBlock(context.Background(), ev.Muted, ev.Err)
		}))
	}
	return opts
}

func (c *Controller) queueOptions(l *live) []playback.Option {
	opts := []playback.Option{playback.WithLogger(l.log)}
	if m := c.cfg.Metrics; m != nil {
		opts = append(opts,
			playback.WithChunkEnd(func(ev playback.ChunkEvent) {
				if ev.Err == nil {
					m.RecordChunkPlayed(context.Background(), ev.Format.String(), ev.Duration)
				}
			}),
			playback.WithSkipHandler(func(_ uint64, err error) {
				reason := "playback"
				var de *audio.DecodeError
				if errors.As(err, &de) {
					reason = "decode"
				}
				m.RecordChunkSkipped(context.Background(), reason)
			}),
		)
	}
	return opts
}

// release closes whatever a failed Connect managed to acquire.
func release(log *slog.Logger, stream device.Stream, tr transport.Transport) {
	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Debug("session: releasing microphone", "err", err)
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			log.Debug("session: releasing transport", "err", err)
		}
	}
}

// sender adapts a transport to [capture.Sender].
type sender struct {
	tr    transport.Transport
	shape OutboundShape
}

func (s *sender) SendAudio(ctx context.Context, payload string) error {
	msg := protocol.Audio(payload)
	if s.shape == ShapeMedia {
		msg = protocol.Media(payload)
	}
	return s.tr.Send(ctx, msg)
}

// SendControl sends start/stop as a text message on the audio shape and as
// a bare event on the legacy media shape.
func (s *sender) SendControl(ctx context.Context, event string) error {
	msg := protocol.Text(event)
	if s.shape == ShapeMedia {
		msg = protocol.Control(event)
	}
	return s.tr.Send(ctx, msg)
}

func (s *sender) Connected() bool {
	return s.tr != nil && s.tr.Connected()
}

func inboundKind(msg protocol.Inbound) string {
	switch m := msg.(type) {
	case protocol.AudioMsg:
		return protocol.TypeAudio
	case protocol.PipelineReady:
		return protocol.TypePipelineReady
	case protocol.CallEnded:
		return protocol.TypeCallEnded
	case protocol.ServerError:
		return protocol.TypeError
	case protocol.TextMsg:
		return string(m.Kind)
	case protocol.Greeting:
		return protocol.TypeGreeting
	case protocol.StreamMarker:
		return "stream_marker"
	case protocol.TransportFailure:
		return "transport_failure"
	case protocol.Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
