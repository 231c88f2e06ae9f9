// Package session implements the connection/session state machine that
// coordinates a voice-ordering session.
//
// The [Machine] is the single source of truth for what the session is doing.
// Callers feed it protocol and connection milestones as [Event]s; it accepts
// only the pairs in its transition table and rejects everything else with an
// [*InvalidTransitionError] without changing state. States that wait for an
// external step carry a timeout owned by the machine: entering any state
// cancels the previous state's timer before the new one is armed, and a timer
// that fires after the machine has moved on is ignored.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxorder/internal/observe"
	"github.com/MrWong99/voxorder/internal/serial"
)

// DefaultHistorySize is the number of transitions retained by default.
const DefaultHistorySize = 100

// ErrClosed is returned by [Machine.Transition] after [Machine.Close].
var ErrClosed = errors.New("session: machine closed")

// InvalidTransitionError reports an event that is not legal in the current
// state.
type InvalidTransitionError struct {
	State State
	Event Event
}

// Error implements [error].
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session: event %s not allowed in state %s", e.Event, e.State)
}

// TransitionRecord is one audit entry.
type TransitionRecord struct {
	From   State
	Event  Event
	To     State
	At     time.Time
	Meta   map[string]any
	Forced bool
	Reason string
}

// Config configures a [Machine].
type Config struct {
	// Timeouts are the per-state budgets. Zero fields use defaults; negative
	// fields disable the guard.
	Timeouts Timeouts

	// HistorySize bounds the transition ring buffer. Default: 100.
	HistorySize int
}

// Machine is the session state machine. All methods are safe for concurrent
// use. Transitions are serialized, and listeners registered with
// [Machine.OnTransition] observe them one at a time in order, even when a
// listener triggers a further transition.
type Machine struct {
	timeouts Timeouts
	logger   *slog.Logger
	metrics  *observe.Metrics

	mu        sync.Mutex
	state     State
	enteredAt time.Time
	timer     *time.Timer
	timerGen  uint64
	closed    bool

	ring  []TransitionRecord
	head  int // index of the oldest record
	count int

	listeners []func(TransitionRecord)
	waiters   map[chan State][]State
	notify    serial.Queue
}

// New returns a machine in [StateDisconnected].
func New(cfg Config, logger *slog.Logger, metrics *observe.Metrics) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Machine{
		timeouts:  cfg.Timeouts.orDefault(),
		logger:    logger.With("component", "session"),
		metrics:   observe.OrDefault(metrics),
		state:     StateDisconnected,
		enteredAt: time.Now(),
		ring:      make([]TransitionRecord, size),
		waiters:   make(map[chan State][]State),
	}
}

// Transition applies event. Illegal pairs return an [*InvalidTransitionError]
// and leave the machine untouched. meta is stored with the record and may be
// nil.
func (m *Machine) Transition(event Event, meta map[string]any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	from := m.state
	to, ok := Next(from, event)
	if !ok {
		m.mu.Unlock()
		m.metrics.RecordRejectedTransition(context.Background(), from.String(), event.String())
		m.logger.Debug("transition rejected", "state", from, "event", event)
		return &InvalidTransitionError{State: from, Event: event}
	}
	m.applyLocked(TransitionRecord{From: from, Event: event, To: to, Meta: maps.Clone(meta)})
	m.mu.Unlock()

	m.notify.Drain()
	return nil
}

// ForceState moves the machine to state regardless of the table. It exists for
// externally detected fatal conditions and is logged at warn level.
func (m *Machine) ForceState(state State, reason string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.logger.Warn("forcing session state", "from", from, "to", state, "reason", reason)
	m.applyLocked(TransitionRecord{From: from, Event: EventForce, To: state, Forced: true, Reason: reason})
	m.mu.Unlock()

	m.notify.Drain()
}

// applyLocked performs a transition. Must be called with m.mu held.
func (m *Machine) applyLocked(rec TransitionRecord) {
	rec.At = time.Now()
	m.state = rec.To
	m.enteredAt = rec.At
	m.armTimerLocked(rec.To)

	m.ring[(m.head+m.count)%len(m.ring)] = rec
	if m.count < len(m.ring) {
		m.count++
	} else {
		m.head = (m.head + 1) % len(m.ring)
	}

	for ch, want := range m.waiters {
		for _, s := range want {
			if s == rec.To {
				ch <- rec.To
				delete(m.waiters, ch)
				break
			}
		}
	}

	if !rec.Forced {
		m.logger.Debug("state transition", "from", rec.From, "event", rec.Event, "to", rec.To)
	}
	m.metrics.RecordTransition(context.Background(), rec.From.String(), rec.To.String(), rec.Event.String())

	m.notify.Enqueue(func() {
		m.mu.Lock()
		ls := slices.Clone(m.listeners)
		m.mu.Unlock()
		for _, l := range ls {
			l(rec)
		}
	})
}

// armTimerLocked cancels the running timer and starts the guard for s, if any.
func (m *Machine) armTimerLocked(s State) {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
	d := m.timeouts.For(s)
	if d <= 0 || m.closed {
		return
	}
	gen := m.timerGen
	m.timer = time.AfterFunc(d, func() { m.fireTimeout(gen, d) })
}

func (m *Machine) fireTimeout(gen uint64, after time.Duration) {
	m.mu.Lock()
	if m.closed || gen != m.timerGen {
		m.mu.Unlock()
		return
	}
	from := m.state
	to, ok := Next(from, EventTimeout)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("state timed out", "state", from, "after", after, "next", to)
	m.applyLocked(TransitionRecord{
		From:  from,
		Event: EventTimeout,
		To:    to,
		Meta:  map[string]any{"after": after.String()},
	})
	m.mu.Unlock()

	m.notify.Drain()
}

// OnTransition registers fn to be called after every transition, including
// timeouts and forced changes.
func (m *Machine) OnTransition(fn func(TransitionRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Watch registers interest in states and returns a channel that receives the
// first of them the machine is in or enters from now on. Register before
// starting the work that leads there, so that a state passed through quickly
// is not missed. stop releases the registration and may be called more than
// once.
func (m *Machine) Watch(states ...State) (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(states, m.state) {
		ch <- m.state
		return ch, func() {}
	}
	m.waiters[ch] = states
	return ch, func() {
		m.mu.Lock()
		delete(m.waiters, ch)
		m.mu.Unlock()
	}
}

// WaitFor blocks until the machine is in one of states or ctx is done, and
// returns the state reached.
func (m *Machine) WaitFor(ctx context.Context, states ...State) (State, error) {
	ch, stop := m.Watch(states...)
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		stop()
		// A transition may have matched between ctx firing and stop.
		select {
		case s := <-ch:
			return s, nil
		default:
		}
		return m.State(), ctx.Err()
	}
}

// Close stops the active timer. Further transitions return [ErrClosed].
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

// ── Queries ───────────────────────────────────────────────────────────────────

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnteredAt returns when the current state was entered.
func (m *Machine) EnteredAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enteredAt
}

// Can reports whether event is legal in the current state.
func (m *Machine) Can(event Event) bool {
	_, ok := Next(m.State(), event)
	return ok
}

// CanStartRecording is true only in IDLE.
func (m *Machine) CanStartRecording() bool { return m.State() == StateIdle }

// CanStopRecording is true only in RECORDING.
func (m *Machine) CanStopRecording() bool { return m.State() == StateRecording }

// IsReady reports whether the remote session is fully established.
func (m *Machine) IsReady() bool {
	switch m.State() {
	case StateIdle, StateRecording, StateCommittingAudio, StateAwaitingTranscript, StateAwaitingResponse:
		return true
	}
	return false
}

// IsRecordingActive is true across the whole record, commit, transcript and
// response arc.
func (m *Machine) IsRecordingActive() bool {
	switch m.State() {
	case StateRecording, StateCommittingAudio, StateAwaitingTranscript, StateAwaitingResponse:
		return true
	}
	return false
}

// HasError is true in ERROR and TIMEOUT.
func (m *Machine) HasError() bool {
	s := m.State()
	return s == StateError || s == StateTimeout
}

// IsConnected reports whether a channel to the service is open.
func (m *Machine) IsConnected() bool {
	switch m.State() {
	case StateAwaitingSessionCreated, StateAwaitingSessionReady, StateIdle,
		StateRecording, StateCommittingAudio, StateAwaitingTranscript, StateAwaitingResponse:
		return true
	}
	return false
}

// History returns the retained transitions, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, m.count)
	for i := range m.count {
		out[i] = m.ring[(m.head+i)%len(m.ring)]
	}
	return out
}
