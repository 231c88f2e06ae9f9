// Package voice is the orchestrator of a voice-ordering session. A [Client]
// owns the microphone pipeline, the websocket transport, the session state
// machine and the realtime event processor, and wires them so that callers
// only deal with four operations (connect, start, stop, disconnect) and one
// typed event stream.
//
// Two turn modes exist. Staff terminals ([sessioncfg.ContextServer]) use
// push-to-talk: audio flows only while RECORDING and StopRecording asks for a
// response explicitly. Kiosks ([sessioncfg.ContextKiosk]) are hands-free: the
// server detects turn ends, microphone audio keeps flowing across turns and
// the client re-enters RECORDING every time the session returns to IDLE.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxorder/internal/observe"
	"github.com/MrWong99/voxorder/internal/order"
	"github.com/MrWong99/voxorder/internal/realtime"
	"github.com/MrWong99/voxorder/internal/session"
	"github.com/MrWong99/voxorder/internal/sessioncfg"
	"github.com/MrWong99/voxorder/internal/transport"
	"github.com/MrWong99/voxorder/pkg/audio"
	"github.com/MrWong99/voxorder/pkg/protocol"
)

// ErrClosed is returned by operations on a closed [Client].
var ErrClosed = errors.New("voice: client closed")

// Event is one item of the stream returned by [Client.Events].
type (
	Event         = realtime.Event
	StateChanged  = realtime.StateChanged
	Transcript    = realtime.Transcript
	Response      = realtime.Response
	OrderIntent   = realtime.OrderIntent
	AudioOutput   = realtime.AudioOutput
	SpeechStarted = realtime.SpeechStarted
	RateLimited   = realtime.RateLimited
	Error         = realtime.Error
	ErrorKind     = realtime.ErrorKind
)

// Error kinds.
const (
	KindPermission = realtime.KindPermission
	KindTransport  = realtime.KindTransport
	KindTimeout    = realtime.KindTimeout
	KindRemote     = realtime.KindRemote
	KindPayload    = realtime.KindPayload
)

// outbound is a message waiting for the sender goroutine. Messages whose
// epoch is older than the client's current epoch belong to a connection that
// no longer exists and are discarded.
type outbound struct {
	epoch uint64
	msg   protocol.Message
}

// Client is one voice-ordering session. Create it with [New]; all methods
// are safe for concurrent use.
type Client struct {
	cfg        Config
	pushToTalk bool
	logger     *slog.Logger
	metrics    *observe.Metrics

	pipeline  *audio.Pipeline
	machine   *session.Machine
	transport *transport.Client
	proc      *realtime.Processor
	creds     *sessioncfg.Manager

	events chan Event
	outbox chan outbound
	epoch  atomic.Uint64
	active atomic.Bool
	closed atomic.Bool

	// recovering is set while an automatic reconnect is under way, so that
	// a channel it opens may revive a session left in ERROR.
	recovering atomic.Bool

	mu    sync.Mutex
	grant sessioncfg.Grant

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New wires a client. Nothing is opened or dialled until [Client.Connect].
func New(cfg Config, deps Deps) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("voice: invalid config: %w", err)
	}
	if deps.Device == nil {
		return nil, errors.New("voice: audio device is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("voice: credential manager is required")
	}
	cfg = cfg.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debug {
		logger = observe.DebugLogger(logger)
	}
	logger = logger.With("tenant", cfg.TenantID)
	metrics := observe.OrDefault(deps.Metrics)

	pipeline, err := audio.NewPipeline(deps.Device, cfg.Audio, logger)
	if err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		pushToTalk: cfg.Context == sessioncfg.ContextServer,
		logger:     logger.With("component", "voice"),
		metrics:    metrics,
		pipeline:   pipeline,
		creds:      deps.Credentials,
		events:     make(chan Event, cfg.EventBuffer),
		outbox:     make(chan outbound, cfg.SendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	c.machine = session.New(session.Config{
		Timeouts:    cfg.Timeouts,
		HistorySize: cfg.HistorySize,
	}, logger, metrics)

	tcfg := cfg.Transport
	if tcfg.Header == nil {
		tcfg.Header = c.authHeader
	}
	c.transport = transport.New(tcfg, logger, metrics)

	c.proc = realtime.New(realtime.Config{MuteOutput: cfg.MuteOutput}, realtime.Deps{
		Machine:   c.machine,
		Sink:      deps.Sink,
		Responder: c.transport,
		Recovery: realtime.Recovery{
			OnSessionExpired: c.sessionExpired,
		},
		Emit:    c.emit,
		Logger:  logger,
		Metrics: metrics,
	})

	c.machine.OnTransition(c.onTransition)
	c.transport.OnStateChange(c.onTransportState)
	c.transport.OnError(c.onTransportError)
	c.transport.OnAny(func(m protocol.Message) { c.proc.Handle(c.ctx, m) })

	c.wg.Go(c.sendLoop)
	return c, nil
}

// ── Operations ────────────────────────────────────────────────────────────────

// Connect fetches a session credential, opens the transport, announces the
// session and blocks until the session is ready (IDLE), fails, times out or
// ctx is done. Without a deadline on ctx the wait is bounded by one minute.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ctx, span := observe.StartSpan(ctx, "voice.connect")
	defer span.End()
	log := observe.Logger(ctx, c.logger)

	c.recovering.Store(false)
	if err := c.machine.Transition(session.EventConnect, map[string]any{"context": c.cfg.Context}); err != nil {
		return fmt.Errorf("voice: connect: %w", err)
	}
	// Watch from CONNECTING on: a session that becomes ready and is then
	// taken over by a recovery still counts as connected.
	settled, stop := c.machine.Watch(
		session.StateIdle, session.StateError, session.StateTimeout, session.StateDisconnected)
	defer stop()

	if _, err := c.creds.Token(ctx); err != nil {
		c.fail(err)
		return fmt.Errorf("voice: credentials: %w", err)
	}
	grant, ok := c.creds.Grant()
	if !ok || strings.TrimSpace(grant.MenuContext) == "" {
		c.fail(sessioncfg.ErrNoMenuContext)
		return fmt.Errorf("voice: credentials: %w", sessioncfg.ErrNoMenuContext)
	}
	c.prepare(grant)

	select {
	case st := <-settled:
		// Timed out or torn down while the credential was fetched.
		return fmt.Errorf("voice: connect: session %s before dialling", st)
	default:
	}

	c.epoch.Add(1)
	if err := c.transport.Connect(ctx); err != nil {
		c.fail(err)
		return fmt.Errorf("voice: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	var (
		st  session.State
		err error
	)
	select {
	case st = <-settled:
	case <-ctx.Done():
		stop()
		select {
		case st = <-settled:
		default:
			st, err = c.machine.State(), ctx.Err()
		}
	}
	if err == nil && st == session.StateIdle {
		if !c.active.Swap(true) {
			c.metrics.ActiveSessions.Add(ctx, 1)
		}
		log.Info("voice session ready", "context", c.cfg.Context, "push_to_talk", c.pushToTalk)
		return nil
	}

	if err == nil {
		err = fmt.Errorf("session ended in state %s", st)
	}
	c.fail(err)
	c.epoch.Add(1)
	_ = c.transport.Disconnect()
	c.transport.ClearQueue()
	return fmt.Errorf("voice: connect: %w", err)
}

// StartRecording opens the microphone (asking for permission on first use)
// and starts streaming. It reports false when the session is not IDLE or the
// microphone cannot be opened; the latter is also surfaced as an
// [Error] event of kind [KindPermission].
func (c *Client) StartRecording(ctx context.Context) bool {
	if c.closed.Load() || !c.machine.CanStartRecording() {
		return false
	}
	if err := c.pipeline.RequestPermissions(ctx); err != nil {
		c.logger.Warn("microphone unavailable", "err", err)
		c.emit(Error{Kind: KindPermission, Err: err})
		return false
	}
	if err := c.pipeline.Start(c.onFrame); err != nil {
		c.logger.Warn("microphone start failed", "err", err)
		c.emit(Error{Kind: KindPermission, Err: err})
		return false
	}
	if err := c.machine.Transition(session.EventStartRecording, nil); err != nil {
		c.logger.Debug("start recording rejected", "err", err)
		c.stopCapture()
		return false
	}
	return true
}

// StopRecording stops the microphone, sends the trailing audio and commits
// the input buffer. In push-to-talk mode it also requests a response. It
// reports false when the session is not RECORDING.
func (c *Client) StopRecording(ctx context.Context) bool {
	if !c.machine.CanStopRecording() {
		return false
	}
	// The tail frame is flushed while still RECORDING, so it is queued ahead
	// of the commit.
	c.stopCapture()
	if err := c.machine.Transition(session.EventStopRecording, nil); err != nil {
		c.logger.Debug("stop recording rejected", "err", err)
		return false
	}
	if err := c.enqueue(ctx, protocol.TypeInputAudioCommit); err != nil {
		c.logger.Warn("commit not sent", "err", err)
		return true
	}
	if c.pushToTalk {
		if err := c.enqueue(ctx, protocol.TypeResponseCreate); err != nil {
			c.logger.Warn("response request not sent", "err", err)
		}
	}
	return true
}

// Interrupt cancels the response in progress, typically after a
// [SpeechStarted] barge-in hint. It reports false when no response is
// pending.
func (c *Client) Interrupt() bool {
	if c.machine.State() != session.StateAwaitingResponse {
		return false
	}
	if err := c.transport.SendPayload(protocol.TypeResponseCancel, nil); err != nil {
		c.logger.Warn("response cancel not sent", "err", err)
		return false
	}
	return true
}

// Disconnect tears the session down. It is safe to call in any state and
// more than once.
func (c *Client) Disconnect() error {
	c.epoch.Add(1)
	c.recovering.Store(false)
	if c.machine.Can(session.EventDisconnect) {
		_ = c.machine.Transition(session.EventDisconnect, nil)
	}
	c.stopCapture()

	err := c.transport.Disconnect()
	c.transport.ClearQueue()
	c.creds.Invalidate()
	c.proc.Reset()
	c.setInactive()

	if c.machine.Can(session.EventDisconnected) {
		_ = c.machine.Transition(session.EventDisconnected, nil)
	}
	if err != nil {
		return fmt.Errorf("voice: disconnect: %w", err)
	}
	return nil
}

// Close disconnects, releases the microphone and stops background work. The
// client cannot be reused.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = errors.Join(c.Disconnect(), c.pipeline.Destroy())
		c.cancel()
		close(c.done)
		c.wg.Wait()
		c.machine.Close()
	})
	return err
}

// ── Queries ───────────────────────────────────────────────────────────────────

// Events returns the event stream. The channel is never closed. When the
// consumer falls behind, further events are dropped and logged.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the session state.
func (c *Client) State() session.State { return c.machine.State() }

// Transcripts returns the finalized transcript log, oldest first.
func (c *Client) Transcripts() []realtime.TranscriptEntry { return c.proc.Transcripts() }

// History returns the retained state transitions, oldest first.
func (c *Client) History() []session.TransitionRecord { return c.machine.History() }

// Ready reports whether the session is established.
func (c *Client) Ready() bool { return c.machine.IsReady() }

// TransportState returns the connection state of the underlying transport.
func (c *Client) TransportState() transport.State { return c.transport.State() }

// SetVADThreshold changes the local voice detector threshold.
func (c *Client) SetVADThreshold(threshold float64) { c.pipeline.SetVADThreshold(threshold) }

// ── Wiring ────────────────────────────────────────────────────────────────────

// prepare stores the grant and installs the menu matcher for it.
func (c *Client) prepare(g sessioncfg.Grant) {
	c.mu.Lock()
	c.grant = g
	c.mu.Unlock()

	items := g.MenuItems
	if len(items) == 0 {
		items = order.ParseMenuItems(g.MenuContext)
	}
	if len(items) == 0 {
		c.proc.SetMatcher(nil)
		return
	}
	c.proc.SetMatcher(order.NewMenuMatcher(items))
	c.logger.Debug("menu matcher ready", "items", len(items))
}

// announce sends session.start and a freshly built descriptor on a newly
// opened channel.
func (c *Client) announce() {
	c.mu.Lock()
	g := c.grant
	c.mu.Unlock()

	d := sessioncfg.BuildDescriptor(sessioncfg.DescriptorOptions{
		MenuContext:        g.MenuContext,
		Context:            c.cfg.Context,
		Voice:              c.cfg.Voice,
		TranscriptionModel: c.cfg.TranscriptionModel,
		Temperature:        c.cfg.Temperature,
		EnableTools:        true,
	})
	c.proc.Reset()

	start := protocol.SessionStart{
		TenantID: c.cfg.TenantID,
		UserID:   c.cfg.UserID,
		Context:  c.cfg.Context,
	}
	if err := c.transport.SendPayload(protocol.TypeSessionStart, start); err != nil {
		c.logger.Error("session start not sent", "err", err)
		return
	}
	if err := c.transport.SendPayload(protocol.TypeSessionUpdate, d); err != nil {
		c.logger.Error("session update not sent", "err", err)
	}
}

func (c *Client) authHeader(ctx context.Context) (http.Header, error) {
	tok, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

func (c *Client) onTransportState(from, to transport.State) {
	c.logger.Debug("transport state changed", "from", from, "to", to)
	switch {
	case to == transport.StateConnected:
		if c.recovering.Swap(false) && c.machine.HasError() {
			c.drive(session.EventConnect, map[string]any{"reason": "reconnected"})
		}
		if c.drive(session.EventConnected, nil) {
			c.announce()
		}

	case from == transport.StateConnected && to == transport.StateReconnecting:
		c.recovering.Store(true)
		c.drive(session.EventConnectionLost, nil)
		c.epoch.Add(1)
		c.transport.ClearQueue()
	}
}

func (c *Client) onTransportError(err error) {
	if !errors.Is(err, transport.ErrReconnectExhausted) {
		c.logger.Debug("transport error", "err", err)
		return
	}
	c.recovering.Store(false)
	c.setInactive()
	c.emit(Error{Kind: KindTransport, Err: err})
}

func (c *Client) onTransition(rec session.TransitionRecord) {
	c.emit(StateChanged{
		From:   rec.From,
		To:     rec.To,
		Event:  rec.Event,
		At:     rec.At,
		Forced: rec.Forced,
		Reason: rec.Reason,
	})

	if !c.capturing(rec.To) {
		c.stopCapture()
	}

	switch rec.To {
	case session.StateTimeout:
		c.emit(Error{Kind: KindTimeout, Err: fmt.Errorf("voice: timed out in %s", rec.From)})
	case session.StateIdle:
		if !c.pushToTalk && c.pipeline.Running() {
			c.drive(session.EventStartRecording, map[string]any{"reason": "hands-free"})
		}
	}
}

// sessionExpired renews the credential and re-establishes the channel in the
// background. A Disconnect in the meantime aborts the reconnect.
func (c *Client) sessionExpired() {
	if c.closed.Load() {
		return
	}
	epoch := c.epoch.Add(1)
	c.wg.Go(func() {
		ctx, cancel := context.WithTimeout(c.ctx, connectTimeout)
		defer cancel()

		c.logger.Warn("session expired, renewing credentials")
		grant, err := c.creds.Refresh(ctx)
		if err != nil {
			c.emit(Error{Kind: KindRemote, Err: err, Code: protocol.CodeSessionExpired})
			return
		}
		if c.epoch.Load() != epoch {
			return
		}
		c.prepare(grant)
		c.recovering.Store(true)
		c.drive(session.EventConnectionLost, map[string]any{"reason": "session expired"})
		_ = c.transport.Disconnect()
		c.transport.ClearQueue()
		if c.epoch.Load() != epoch {
			return
		}
		if err := c.transport.Connect(ctx); err != nil {
			c.recovering.Store(false)
			c.emit(Error{Kind: KindTransport, Err: err})
		}
	})
}

// capturing reports whether microphone audio belongs on the wire in s.
func (c *Client) capturing(s session.State) bool {
	if c.pushToTalk {
		return s == session.StateRecording
	}
	switch s {
	case session.StateIdle, session.StateRecording, session.StateCommittingAudio,
		session.StateAwaitingTranscript, session.StateAwaitingResponse:
		return true
	}
	return false
}

// onFrame runs on the device goroutine under the pipeline lock; it must not
// block or call back into the pipeline.
func (c *Client) onFrame(f audio.EncodedFrame) {
	ctx := context.Background()
	if !c.capturing(c.machine.State()) {
		return
	}
	if c.pushToTalk && c.cfg.EnableVAD && !f.HasVoice {
		return
	}
	at := f.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	m, err := protocol.NewMessage(protocol.TypeAudio, protocol.AudioChunk{
		Audio:     f.Base64(),
		HasVoice:  f.HasVoice,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		c.logger.Error("encode audio frame", "err", err)
		return
	}
	select {
	case c.outbox <- outbound{epoch: c.epoch.Load(), msg: m}:
		c.metrics.RecordAudioFrame(ctx, f.HasVoice)
	default:
		c.metrics.RecordQueueDrop(ctx, protocol.TypeAudio)
		c.logger.Debug("send buffer full, dropping audio frame")
	}
}

// enqueue puts a control message behind any audio already waiting to be
// sent.
func (c *Client) enqueue(ctx context.Context, msgType string) error {
	m, err := protocol.NewMessage(msgType, nil)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- outbound{epoch: c.epoch.Load(), msg: m}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.outbox:
			if out.epoch != c.epoch.Load() {
				continue
			}
			c.transport.Send(out.msg)
		}
	}
}

func (c *Client) stopCapture() {
	if err := c.pipeline.Stop(); err != nil {
		c.logger.Warn("stop capture", "err", err)
	}
}

// drive applies event and reports whether it was accepted.
func (c *Client) drive(event session.Event, meta map[string]any) bool {
	if err := c.machine.Transition(event, meta); err != nil {
		c.logger.Debug("transition rejected", "event", event, "err", err)
		return false
	}
	return true
}

// fail moves a session that is still being established into ERROR.
func (c *Client) fail(cause error) {
	c.logger.Warn("session failed", "err", cause)
	c.drive(session.EventError, map[string]any{"err": cause.Error()})
}

func (c *Client) setInactive() {
	if c.active.Swap(false) {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("event buffer full, dropping event", "event", fmt.Sprintf("%T", e))
	}
}
