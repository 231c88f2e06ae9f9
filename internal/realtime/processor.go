// Package realtime interprets inbound realtime-protocol messages. The
// [Processor] drives the session state machine from them, accumulates
// transcripts, turns function calls into order intents and raises the typed
// events the UI layer renders.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxorder/internal/observe"
	"github.com/MrWong99/voxorder/internal/order"
	"github.com/MrWong99/voxorder/internal/session"
	"github.com/MrWong99/voxorder/pkg/protocol"
)

// DefaultSeenCapacity is the number of event ids remembered for replay
// detection.
const DefaultSeenCapacity = 500

// StateDriver is the part of the session machine the processor drives.
type StateDriver interface {
	Transition(event session.Event, meta map[string]any) error
	State() session.State
}

// Responder sends messages back to the remote service.
type Responder interface {
	SendPayload(msgType string, payload any) error
}

// Recovery hooks are invoked for remote-service conditions with a dedicated
// recovery path. Nil hooks are skipped.
type Recovery struct {
	// OnSessionExpired is called when the service reports an expired session.
	OnSessionExpired func()

	// OnRateLimited is called when the service reports an exhausted rate
	// limit. retryAfter is zero when the service did not say.
	OnRateLimited func(retryAfter time.Duration)
}

// Config tunes a [Processor].
type Config struct {
	// SeenCapacity bounds the replay-detection set. Default: 500.
	SeenCapacity int

	// MuteOutput suppresses AudioOutput events.
	MuteOutput bool
}

// Deps are the collaborators of a [Processor]. Machine is required.
type Deps struct {
	Machine   StateDriver
	Sink      order.Sink
	Responder Responder
	Matcher   *order.MenuMatcher
	Recovery  Recovery

	// Emit receives every event. It must not block.
	Emit func(Event)

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Processor interprets inbound messages. Handle is meant to be called from a
// single delivery goroutine; the query methods are safe for concurrent use.
type Processor struct {
	cfg       Config
	machine   StateDriver
	sink      order.Sink
	responder Responder
	recovery  Recovery
	emit      func(Event)
	logger    *slog.Logger
	metrics   *observe.Metrics

	mu          sync.Mutex
	matcher     *order.MenuMatcher
	seen        *seenSet
	userText    map[string]string
	replyText   map[string]string
	log         []TranscriptEntry
	committedAt time.Time
}

// New returns a processor.
func New(cfg Config, deps Deps) *Processor {
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = DefaultSeenCapacity
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emit := deps.Emit
	if emit == nil {
		emit = func(Event) {}
	}
	return &Processor{
		cfg:       cfg,
		machine:   deps.Machine,
		sink:      deps.Sink,
		responder: deps.Responder,
		recovery:  deps.Recovery,
		emit:      emit,
		logger:    logger.With("component", "realtime"),
		metrics:   observe.OrDefault(deps.Metrics),
		matcher:   deps.Matcher,
		seen:      newSeenSet(cfg.SeenCapacity),
		userText:  make(map[string]string),
		replyText: make(map[string]string),
	}
}

// SetMatcher replaces the menu matcher, typically once the menu for a new
// connection is known. Nil disables canonicalization.
func (p *Processor) SetMatcher(m *order.MenuMatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matcher = m
}

// Transcripts returns a copy of the finalized transcript log.
func (p *Processor) Transcripts() []TranscriptEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.log)
}

// Reset clears in-progress accumulators. The transcript log and the replay
// set survive so a reconnect replay is still detected.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.userText)
	clear(p.replyText)
	p.committedAt = time.Time{}
}

// Handle interprets one inbound message. It never fails: malformed payloads
// and rejected transitions are logged and skipped.
func (p *Processor) Handle(ctx context.Context, m protocol.Message) {
	if m.EventID != "" {
		p.mu.Lock()
		fresh := p.seen.add(m.EventID)
		p.mu.Unlock()
		if !fresh {
			p.metrics.DuplicateEvents.Add(ctx, 1)
			p.logger.Debug("ignoring replayed event", "type", m.Type, "event_id", m.EventID)
			return
		}
	}

	payload, err := m.Payload()
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			p.logger.Debug("ignoring unhandled message type", "type", m.Type)
			return
		}
		p.malformed(ctx, m.Type, err)
		return
	}

	switch v := payload.(type) {
	case protocol.SessionStatus:
		if m.Type == protocol.TypeSessionCreated {
			p.drive(session.EventSessionCreated, map[string]any{"session_id": v.SessionID})
		} else {
			p.drive(session.EventSessionReady, map[string]any{"session_id": v.SessionID})
		}

	case protocol.AudioCommitted:
		p.mu.Lock()
		p.committedAt = time.Now()
		p.mu.Unlock()
		p.drive(session.EventAudioCommitted, map[string]any{"item_id": v.ItemID})

	case protocol.SpeechStarted:
		p.emit(SpeechStarted{ItemID: v.ItemID, AudioStartMs: v.AudioStartMs})

	case protocol.SpeechStopped:
		p.logger.Debug("server detected end of speech", "item_id", v.ItemID)

	case protocol.Transcript:
		if v.IsFinal {
			p.finalizeUser(v.ItemID, v.Text, v.Confidence)
		} else {
			p.mu.Lock()
			p.userText[v.ItemID] = v.Text
			p.mu.Unlock()
			p.emit(Transcript{ItemID: v.ItemID, Text: v.Text, Confidence: v.Confidence})
		}

	case protocol.TranscriptionDelta:
		p.mu.Lock()
		p.userText[v.ItemID] += v.Delta
		text := p.userText[v.ItemID]
		p.mu.Unlock()
		p.emit(Transcript{ItemID: v.ItemID, Text: text})

	case protocol.TranscriptionCompleted:
		p.finalizeUser(v.ItemID, v.Transcript, nil)

	case protocol.ResponseLifecycle:
		if m.Type == protocol.TypeResponseCreated {
			p.drive(session.EventResponseStarted, map[string]any{"response_id": v.Response.ID})
		} else {
			p.completeTurn(ctx, v.Response.ID, v.Response.Status)
		}

	case protocol.ResponseDelta:
		if m.Type == protocol.TypeResponseAudioDelta {
			p.audioOut(ctx, m.Type, v.ResponseID, v.Delta)
			return
		}
		p.mu.Lock()
		p.replyText[v.ResponseID] += v.Delta
		text := p.replyText[v.ResponseID]
		p.mu.Unlock()
		p.emit(Response{ResponseID: v.ResponseID, Text: text})

	case protocol.ResponseTextDone:
		p.finalizeReply(v.ResponseID, v.Final(), "")

	case protocol.Response:
		p.simpleResponse(ctx, v)

	case protocol.FunctionCall:
		p.functionCall(ctx, v)

	case protocol.RateLimits:
		if bucket, ok := v.Exhausted(); ok {
			p.rateLimited(ctx, seconds(bucket.ResetSeconds), bucket.Name)
		}

	case protocol.Error:
		p.remoteError(ctx, v)

	case protocol.Empty:
		// pong and heartbeat only feed transport liveness.

	default:
		p.logger.Debug("ignoring outbound-only message type", "type", m.Type)
	}
}

// drive applies a state event. Rejections are expected when the remote
// service and the local machine disagree about timing and never abort
// processing.
func (p *Processor) drive(e session.Event, meta map[string]any) {
	if p.machine == nil {
		return
	}
	if err := p.machine.Transition(e, meta); err != nil {
		p.logger.Debug("state event rejected", "event", e, "err", err)
	}
}

func (p *Processor) malformed(ctx context.Context, typ string, err error) {
	p.metrics.RecordMalformed(ctx, typ)
	p.logger.Warn("dropping malformed payload", "type", typ, "err", err)
}

func (p *Processor) finalizeUser(itemID, text string, confidence *float64) {
	p.mu.Lock()
	if text == "" {
		text = p.userText[itemID]
	}
	delete(p.userText, itemID)
	if text != "" {
		p.log = append(p.log, TranscriptEntry{
			ItemID:      itemID,
			Role:        RoleUser,
			Text:        text,
			Confidence:  confidence,
			FinalizedAt: time.Now(),
		})
	}
	p.mu.Unlock()

	p.drive(session.EventTranscriptReceived, map[string]any{"item_id": itemID})
	p.emit(Transcript{ItemID: itemID, Text: text, Final: true, Confidence: confidence})
}

func (p *Processor) finalizeReply(responseID, text, audioURL string) {
	p.mu.Lock()
	if text == "" {
		text = p.replyText[responseID]
	}
	delete(p.replyText, responseID)
	if text != "" {
		p.log = append(p.log, TranscriptEntry{
			ItemID:      responseID,
			Role:        RoleAssistant,
			Text:        text,
			FinalizedAt: time.Now(),
		})
	}
	p.mu.Unlock()

	p.emit(Response{ResponseID: responseID, Text: text, Final: true, AudioURL: audioURL})
}

func (p *Processor) completeTurn(ctx context.Context, responseID, status string) {
	p.mu.Lock()
	_, open := p.replyText[responseID]
	started := p.committedAt
	p.committedAt = time.Time{}
	p.mu.Unlock()

	// A response that never sent its done marker still closes here.
	if open {
		p.finalizeReply(responseID, "", "")
	}
	if !started.IsZero() {
		p.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
	}
	p.drive(session.EventResponseCompleted, map[string]any{"response_id": responseID, "status": status})
}

// simpleResponse handles the single-message response shape.
func (p *Processor) simpleResponse(ctx context.Context, r protocol.Response) {
	if p.machine != nil && p.machine.State() != session.StateAwaitingResponse {
		p.drive(session.EventResponseStarted, nil)
	}
	if r.AudioData != "" {
		p.audioOut(ctx, protocol.TypeResponse, "", r.AudioData)
	}
	if !r.Final() {
		p.mu.Lock()
		p.replyText[""] = r.Text
		p.mu.Unlock()
		p.emit(Response{Text: r.Text, AudioURL: r.AudioURL})
		return
	}
	p.finalizeReply("", r.Text, r.AudioURL)
	p.completeTurn(ctx, "", "completed")
}

func (p *Processor) audioOut(ctx context.Context, typ, responseID, b64 string) {
	if p.cfg.MuteOutput || b64 == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		p.malformed(ctx, typ, err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	p.emit(AudioOutput{ResponseID: responseID, PCM: pcm})
}

// functionCallResult is returned to the model as the function output.
type functionCallResult struct {
	Status  string   `json:"status"`
	Applied []string `json:"applied,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (p *Processor) functionCall(ctx context.Context, fc protocol.FunctionCall) {
	result := functionCallResult{Status: "ok"}

	intents, err := order.ParseFunctionCall(fc.Name, fc.Arguments)
	if err != nil {
		p.malformed(ctx, protocol.TypeFunctionCallArgumentsDone, err)
		p.emit(Error{Kind: KindPayload, Err: err})
		result = functionCallResult{Status: "error", Error: err.Error()}
	}

	p.mu.Lock()
	matcher := p.matcher
	p.mu.Unlock()

	for _, in := range intents {
		in = matcher.Canonicalize(in)
		in.CallID = fc.CallID

		var applyErr error
		if p.sink != nil {
			applyErr = p.sink.ApplyIntent(ctx, in)
		}
		status := "applied"
		if applyErr != nil {
			status = "rejected"
			result.Status = "error"
			result.Error = applyErr.Error()
			p.logger.Warn("cart rejected order intent", "action", in.Action, "item", in.ItemName, "err", applyErr)
		} else {
			result.Applied = append(result.Applied, describe(in))
			p.logger.Info("order intent applied", "action", in.Action, "item", in.ItemName, "quantity", in.Quantity)
		}
		p.metrics.RecordOrderIntent(ctx, string(in.Action), status)
		p.emit(OrderIntent{Intent: in, Err: applyErr})
	}

	p.respond(fc.CallID, result)
}

// respond returns the function output and asks for the next model turn.
func (p *Processor) respond(callID string, result functionCallResult) {
	if p.responder == nil {
		return
	}
	out, err := json.Marshal(result)
	if err != nil {
		p.logger.Error("marshal function output", "err", err)
		return
	}
	if err := p.responder.SendPayload(protocol.TypeConversationItemAdd, protocol.FunctionCallOutput(callID, string(out))); err != nil {
		p.logger.Warn("send function output", "call_id", callID, "err", err)
		return
	}
	if err := p.responder.SendPayload(protocol.TypeResponseCreate, nil); err != nil {
		p.logger.Warn("request follow-up response", "err", err)
	}
}

func (p *Processor) remoteError(ctx context.Context, e protocol.Error) {
	switch {
	case e.HasCode(protocol.CodeSessionExpired):
		p.logger.Warn("remote session expired", "message", e.Message)
		if p.recovery.OnSessionExpired != nil {
			p.recovery.OnSessionExpired()
		}
	case e.HasCode(protocol.CodeRateLimitExceeded):
		p.rateLimited(ctx, seconds(e.RetryAfter), "")
	default:
		p.logger.Warn("remote service error", "code", e.Code, "message", e.Message)
		p.emit(Error{Kind: KindRemote, Err: errors.New(e.String()), Code: e.Code})
	}
}

func (p *Processor) rateLimited(ctx context.Context, retryAfter time.Duration, bucket string) {
	p.metrics.RateLimited.Add(ctx, 1)
	p.logger.Warn("rate limited by remote service", "retry_after", retryAfter, "bucket", bucket)
	if p.recovery.OnRateLimited != nil {
		p.recovery.OnRateLimited(retryAfter)
	}
	p.emit(RateLimited{RetryAfter: retryAfter, Bucket: bucket})
}

func describe(in order.Intent) string {
	switch in.Action {
	case order.ActionConfirm:
		return "order confirmed"
	case order.ActionRemove:
		return "removed " + in.ItemName
	}
	return "added " + in.ItemName
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
