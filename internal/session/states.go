package session

import (
	"fmt"
	"time"
)

// State is a position in the voice session lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingSessionCreated
	StateAwaitingSessionReady
	StateIdle
	StateRecording
	StateCommittingAudio
	StateAwaitingTranscript
	StateAwaitingResponse
	StateError
	StateTimeout
	StateDisconnecting
)

var stateNames = [...]string{
	StateDisconnected:           "DISCONNECTED",
	StateConnecting:             "CONNECTING",
	StateAwaitingSessionCreated: "AWAITING_SESSION_CREATED",
	StateAwaitingSessionReady:   "AWAITING_SESSION_READY",
	StateIdle:                   "IDLE",
	StateRecording:              "RECORDING",
	StateCommittingAudio:        "COMMITTING_AUDIO",
	StateAwaitingTranscript:     "AWAITING_TRANSCRIPT",
	StateAwaitingResponse:       "AWAITING_RESPONSE",
	StateError:                  "ERROR",
	StateTimeout:                "TIMEOUT",
	StateDisconnecting:          "DISCONNECTING",
}

// String implements [fmt.Stringer].
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// States returns every state in declaration order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// Event is an input to the state machine.
type Event int

const (
	EventConnect Event = iota
	EventConnected
	EventSessionCreated
	EventSessionReady
	EventStartRecording
	EventStopRecording
	EventAudioCommitted
	EventTranscriptReceived
	EventResponseStarted
	EventResponseCompleted
	EventTimeout
	EventError
	EventConnectionLost
	EventDisconnect
	EventDisconnected
	EventReset

	// EventForce marks records written by [Machine.ForceState]. It is not
	// accepted by [Machine.Transition].
	EventForce
)

var eventNames = [...]string{
	EventConnect:            "CONNECT",
	EventConnected:          "CONNECTED",
	EventSessionCreated:     "SESSION_CREATED",
	EventSessionReady:       "SESSION_READY",
	EventStartRecording:     "START_RECORDING",
	EventStopRecording:      "STOP_RECORDING",
	EventAudioCommitted:     "AUDIO_COMMITTED",
	EventTranscriptReceived: "TRANSCRIPT_RECEIVED",
	EventResponseStarted:    "RESPONSE_STARTED",
	EventResponseCompleted:  "RESPONSE_COMPLETED",
	EventTimeout:            "TIMEOUT",
	EventError:              "ERROR",
	EventConnectionLost:     "CONNECTION_LOST",
	EventDisconnect:         "DISCONNECT",
	EventDisconnected:       "DISCONNECTED",
	EventReset:              "RESET",
	EventForce:              "FORCE",
}

// String implements [fmt.Stringer].
func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Events returns every event in declaration order.
func Events() []Event {
	out := make([]Event, len(eventNames))
	for i := range out {
		out[i] = Event(i)
	}
	return out
}

// transitions is the complete table. Any (state, event) pair missing here is
// rejected.
var transitions = buildTable()

func buildTable() map[State]map[Event]State {
	t := map[State]map[Event]State{
		StateDisconnected: {
			EventConnect: StateConnecting,
		},
		StateConnecting: {
			EventConnected: StateAwaitingSessionCreated,
			EventTimeout:   StateTimeout,
		},
		StateAwaitingSessionCreated: {
			EventSessionCreated: StateAwaitingSessionReady,
			EventSessionReady:   StateIdle,
			EventTimeout:        StateTimeout,
		},
		StateAwaitingSessionReady: {
			EventSessionReady: StateIdle,
			EventTimeout:      StateTimeout,
		},
		StateIdle: {
			EventStartRecording:  StateRecording,
			EventAudioCommitted:  StateAwaitingTranscript,
			EventResponseStarted: StateAwaitingResponse,
			EventSessionReady:    StateIdle,
		},
		StateRecording: {
			EventStopRecording:  StateCommittingAudio,
			EventAudioCommitted: StateAwaitingTranscript,
		},
		StateCommittingAudio: {
			EventAudioCommitted:     StateAwaitingTranscript,
			EventTranscriptReceived: StateAwaitingResponse,
			EventTimeout:            StateIdle,
		},
		StateAwaitingTranscript: {
			EventTranscriptReceived: StateAwaitingResponse,
			EventResponseStarted:    StateAwaitingResponse,
			EventTimeout:            StateIdle,
		},
		StateAwaitingResponse: {
			EventResponseStarted:    StateAwaitingResponse,
			EventTranscriptReceived: StateAwaitingResponse,
			EventResponseCompleted:  StateIdle,
			EventTimeout:            StateIdle,
		},
		StateError: {
			EventConnect:    StateConnecting,
			EventReset:      StateDisconnected,
			EventDisconnect: StateDisconnecting,
		},
		StateTimeout: {
			EventConnect:    StateConnecting,
			EventReset:      StateDisconnected,
			EventDisconnect: StateDisconnecting,
		},
		StateDisconnecting: {
			EventDisconnected:   StateDisconnected,
			EventConnectionLost: StateDisconnected,
			EventTimeout:        StateDisconnected,
		},
	}

	// Every state with a live or pending channel can fail or be torn down.
	for _, s := range []State{
		StateConnecting,
		StateAwaitingSessionCreated,
		StateAwaitingSessionReady,
		StateIdle,
		StateRecording,
		StateCommittingAudio,
		StateAwaitingTranscript,
		StateAwaitingResponse,
	} {
		t[s][EventError] = StateError
		t[s][EventConnectionLost] = StateError
		t[s][EventDisconnect] = StateDisconnecting
	}
	return t
}

// Next returns the state event leads to from s, and whether the pair is legal.
func Next(s State, e Event) (State, bool) {
	to, ok := transitions[s][e]
	return to, ok
}

// Timeouts holds the per-state time budgets. A zero duration disables the
// guard for that state.
type Timeouts struct {
	Connecting             time.Duration
	AwaitingSessionCreated time.Duration
	AwaitingSessionReady   time.Duration
	CommittingAudio        time.Duration
	AwaitingTranscript     time.Duration
	AwaitingResponse       time.Duration
	Disconnecting          time.Duration
}

// DefaultTimeouts returns the standard budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connecting:             15 * time.Second,
		AwaitingSessionCreated: 5 * time.Second,
		AwaitingSessionReady:   5 * time.Second,
		CommittingAudio:        5 * time.Second,
		AwaitingTranscript:     10 * time.Second,
		AwaitingResponse:       30 * time.Second,
		Disconnecting:          3 * time.Second,
	}
}

// For returns the budget for s, or zero when s has no timeout.
func (t Timeouts) For(s State) time.Duration {
	switch s {
	case StateConnecting:
		return t.Connecting
	case StateAwaitingSessionCreated:
		return t.AwaitingSessionCreated
	case StateAwaitingSessionReady:
		return t.AwaitingSessionReady
	case StateCommittingAudio:
		return t.CommittingAudio
	case StateAwaitingTranscript:
		return t.AwaitingTranscript
	case StateAwaitingResponse:
		return t.AwaitingResponse
	case StateDisconnecting:
		return t.Disconnecting
	}
	return 0
}

// orDefault fills zero fields from [DefaultTimeouts]. Negative values disable
// the corresponding guard.
func (t Timeouts) orDefault() Timeouts {
	d := DefaultTimeouts()
	pick := func(v, def time.Duration) time.Duration {
		switch {
		case v == 0:
			return def
		case v < 0:
			return 0
		}
		return v
	}
	return Timeouts{
		Connecting:             pick(t.Connecting, d.Connecting),
		AwaitingSessionCreated: pick(t.AwaitingSessionCreated, d.AwaitingSessionCreated),
		AwaitingSessionReady:   pick(t.AwaitingSessionReady, d.AwaitingSessionReady),
		CommittingAudio:        pick(t.CommittingAudio, d.CommittingAudio),
		AwaitingTranscript:     pick(t.AwaitingTranscript, d.AwaitingTranscript),
		AwaitingResponse:       pick(t.AwaitingResponse, d.AwaitingResponse),
		Disconnecting:          pick(t.Disconnecting, d.Disconnecting),
	}
}
