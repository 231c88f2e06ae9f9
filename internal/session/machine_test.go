package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// newTestMachine returns a machine whose timeouts are disabled unless
// overridden.
func newTestMachine(t *testing.T, timeouts Timeouts) *Machine {
	t.Helper()
	m := New(Config{Timeouts: timeouts}, nil, nil)
	t.Cleanup(m.Close)
	return m
}

func noTimeouts() Timeouts {
	return Timeouts{
		Connecting:             -1,
		AwaitingSessionCreated: -1,
		AwaitingSessionReady:   -1,
		CommittingAudio:        -1,
		AwaitingTranscript:     -1,
		AwaitingResponse:       -1,
		Disconnecting:          -1,
	}
}

func mustTransition(t *testing.T, m *Machine, events ...Event) {
	t.Helper()
	for _, e := range events {
		if err := m.Transition(e, nil); err != nil {
			t.Fatalf("Transition(%s): %v", e, err)
		}
	}
}

// pathTo lists events that drive a fresh machine into each state.
var pathTo = map[State][]Event{
	StateDisconnected:           nil,
	StateConnecting:             {EventConnect},
	StateAwaitingSessionCreated: {EventConnect, EventConnected},
	StateAwaitingSessionReady:   {EventConnect, EventConnected, EventSessionCreated},
	StateIdle:                   {EventConnect, EventConnected, EventSessionCreated, EventSessionReady},
	StateRecording:              {EventConnect, EventConnected, EventSessionReady, EventStartRecording},
	StateCommittingAudio:        {EventConnect, EventConnected, EventSessionReady, EventStartRecording, EventStopRecording},
	StateAwaitingTranscript:     {EventConnect, EventConnected, EventSessionReady, EventAudioCommitted},
	StateAwaitingResponse:       {EventConnect, EventConnected, EventSessionReady, EventResponseStarted},
	StateError:                  {EventConnect, EventError},
	StateTimeout:                {EventConnect, EventTimeout},
	StateDisconnecting:          {EventConnect, EventDisconnect},
}

func TestTransition_Totality(t *testing.T) {
	t.Parallel()
	for _, s := range States() {
		for _, e := range Events() {
			m := newTestMachine(t, noTimeouts())
			mustTransition(t, m, pathTo[s]...)
			if m.State() != s {
				t.Fatalf("setup for %s landed in %s", s, m.State())
			}
			before := len(m.History())

			want, legal := Next(s, e)
			err := m.Transition(e, nil)
			if legal {
				if err != nil {
					t.Errorf("%s --%s--> expected %s, got error %v", s, e, want, err)
				}
				if m.State() != want {
					t.Errorf("%s --%s--> %s, want %s", s, e, m.State(), want)
				}
				continue
			}

			var inv *InvalidTransitionError
			if !errors.As(err, &inv) {
				t.Errorf("%s --%s--> expected InvalidTransitionError, got %v", s, e, err)
				continue
			}
			if inv.State != s || inv.Event != e {
				t.Errorf("error carries %s/%s, want %s/%s", inv.State, inv.Event, s, e)
			}
			if m.State() != s {
				t.Errorf("rejected %s mutated state %s -> %s", e, s, m.State())
			}
			if len(m.History()) != before {
				t.Errorf("rejected %s recorded history", e)
			}
		}
	}
}

func TestTransition_ForceEventNeverAccepted(t *testing.T) {
	t.Parallel()
	for _, s := range States() {
		if _, ok := Next(s, EventForce); ok {
			t.Errorf("EventForce accepted in %s", s)
		}
	}
}

func TestTimeout_BestEffortStatesFallBackToIdle(t *testing.T) {
	t.Parallel()
	for _, s := range []State{StateAwaitingTranscript, StateAwaitingResponse, StateCommittingAudio} {
		t.Run(s.String(), func(t *testing.T) {
			t.Parallel()
			to := noTimeouts()
			to.AwaitingTranscript = 20 * time.Millisecond
			to.AwaitingResponse = 20 * time.Millisecond
			to.CommittingAudio = 20 * time.Millisecond
			m := newTestMachine(t, to)
			mustTransition(t, m, pathTo[s]...)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			got, err := m.WaitFor(ctx, StateIdle, StateError, StateTimeout)
			if err != nil {
				t.Fatalf("WaitFor: %v", err)
			}
			if got != StateIdle {
				t.Errorf("timeout from %s landed in %s, want IDLE", s, got)
			}
			h := m.History()
			if last := h[len(h)-1]; last.Event != EventTimeout || last.From != s {
				t.Errorf("last record = %+v", last)
			}
		})
	}
}

func TestTimeout_ConnectingIsTerminal(t *testing.T) {
	t.Parallel()
	to := noTimeouts()
	to.Connecting = 20 * time.Millisecond
	m := newTestMachine(t, to)
	mustTransition(t, m, EventConnect)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := m.WaitFor(ctx, StateTimeout)
	if err != nil || got != StateTimeout {
		t.Fatalf("WaitFor = %s, %v", got, err)
	}
	if !m.HasError() {
		t.Error("HasError() = false in TIMEOUT")
	}
}

func TestTimeout_StaleTimerIgnored(t *testing.T) {
	t.Parallel()
	to := noTimeouts()
	to.Connecting = 30 * time.Millisecond
	m := newTestMachine(t, to)
	mustTransition(t, m, EventConnect, EventConnected, EventSessionReady)

	time.Sleep(80 * time.Millisecond)
	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %s, want IDLE (stale CONNECTING timer fired)", got)
	}
	for _, r := range m.History() {
		if r.Event == EventTimeout {
			t.Fatalf("unexpected timeout record %+v", r)
		}
	}
}

func TestTimeout_SelfTransitionRestartsTimer(t *testing.T) {
	t.Parallel()
	to := noTimeouts()
	to.AwaitingResponse = 150 * time.Millisecond
	m := newTestMachine(t, to)
	mustTransition(t, m, pathTo[StateAwaitingResponse]...)

	for range 5 {
		time.Sleep(50 * time.Millisecond)
		mustTransition(t, m, EventResponseStarted)
	}
	if got := m.State(); got != StateAwaitingResponse {
		t.Fatalf("state = %s; self-transition did not restart the timer", got)
	}
}

func TestHappyPath(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())

	mustTransition(t, m, EventConnect, EventConnected, EventSessionCreated, EventSessionReady)
	if !m.IsReady() || !m.CanStartRecording() || !m.IsConnected() {
		t.Fatal("expected ready idle session")
	}
	mustTransition(t, m, EventStartRecording)
	if !m.CanStopRecording() || m.CanStartRecording() || !m.IsRecordingActive() {
		t.Fatal("guards wrong in RECORDING")
	}
	mustTransition(t, m, EventStopRecording, EventAudioCommitted, EventTranscriptReceived, EventResponseStarted)
	if !m.IsRecordingActive() {
		t.Error("IsRecordingActive() = false while awaiting response")
	}
	mustTransition(t, m, EventResponseCompleted)
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %s, want IDLE", got)
	}
	if m.IsRecordingActive() || m.HasError() {
		t.Error("guards wrong after turn")
	}
}

func TestMidCallDrop_LeavesRecordingViaError(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())
	mustTransition(t, m, pathTo[StateRecording]...)
	mustTransition(t, m, EventConnectionLost)
	if got := m.State(); got != StateError {
		t.Fatalf("state = %s, want ERROR", got)
	}
	mustTransition(t, m, EventConnect)
	if got := m.State(); got != StateConnecting {
		t.Errorf("reconnect from ERROR landed in %s", got)
	}
}

func TestForceState_RecordedDistinctly(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())
	mustTransition(t, m, EventConnect)
	m.ForceState(StateError, "microphone unplugged")

	if got := m.State(); got != StateError {
		t.Fatalf("state = %s", got)
	}
	h := m.History()
	last := h[len(h)-1]
	if !last.Forced || last.Event != EventForce || last.Reason != "microphone unplugged" {
		t.Errorf("forced record = %+v", last)
	}
	if h[0].Forced {
		t.Error("normal transition marked forced")
	}
}

func TestHistory_BoundedRing(t *testing.T) {
	t.Parallel()
	m := New(Config{Timeouts: noTimeouts(), HistorySize: 4}, nil, nil)
	t.Cleanup(m.Close)

	mustTransition(t, m, EventConnect, EventConnected, EventSessionReady)
	for range 3 {
		mustTransition(t, m, EventStartRecording, EventStopRecording, EventAudioCommitted,
			EventTranscriptReceived, EventResponseCompleted)
	}
	h := m.History()
	if len(h) != 4 {
		t.Fatalf("history length = %d, want 4", len(h))
	}
	want := []Event{EventStopRecording, EventAudioCommitted, EventTranscriptReceived, EventResponseCompleted}
	for i, r := range h {
		if r.Event != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, r.Event, want[i])
		}
		if i > 0 && r.At.Before(h[i-1].At) {
			t.Error("history not ordered oldest first")
		}
	}
}

func TestTransition_MetaCopied(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())
	meta := map[string]any{"url": "wss://example"}
	if err := m.Transition(EventConnect, meta); err != nil {
		t.Fatal(err)
	}
	meta["url"] = "changed"
	if got := m.History()[0].Meta["url"]; got != "wss://example" {
		t.Errorf("meta = %v; record must not alias caller map", got)
	}
}

func TestOnTransition_ReentrantTransitionsDeliveredInOrder(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())

	var mu sync.Mutex
	var seen []State
	m.OnTransition(func(r TransitionRecord) {
		mu.Lock()
		seen = append(seen, r.To)
		mu.Unlock()
		// Chain the handshake from inside the listener.
		switch r.To {
		case StateConnecting:
			_ = m.Transition(EventConnected, nil)
		case StateAwaitingSessionCreated:
			_ = m.Transition(EventSessionReady, nil)
		}
	})
	m.OnTransition(func(r TransitionRecord) {
		mu.Lock()
		seen = append(seen, r.To)
		mu.Unlock()
	})

	mustTransition(t, m, EventConnect)

	mu.Lock()
	defer mu.Unlock()
	want := []State{
		StateConnecting, StateConnecting,
		StateAwaitingSessionCreated, StateAwaitingSessionCreated,
		StateIdle, StateIdle,
	}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestWaitFor_ContextCancelled(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := m.WaitFor(ctx, StateIdle)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	if got != StateDisconnected {
		t.Errorf("state = %s", got)
	}
}

func TestWatch_CatchesStatePassedThrough(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())
	mustTransition(t, m, EventConnect)

	settled, stop := m.Watch(StateIdle, StateError)
	defer stop()
	mustTransition(t, m, EventConnected, EventSessionReady, EventConnectionLost)

	select {
	case got := <-settled:
		if got != StateIdle {
			t.Errorf("Watch delivered %s, want IDLE", got)
		}
	default:
		t.Fatal("Watch missed IDLE")
	}
	if got := m.State(); got != StateError {
		t.Errorf("state = %s, want ERROR", got)
	}
}

func TestWatch_CurrentStateMatches(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, noTimeouts())

	settled, stop := m.Watch(StateDisconnected)
	stop()
	stop()
	if got := <-settled; got != StateDisconnected {
		t.Errorf("Watch delivered %s, want DISCONNECTED", got)
	}
}

func TestClose_RejectsAndStopsTimers(t *testing.T) {
	t.Parallel()
	to := noTimeouts()
	to.Connecting = 20 * time.Millisecond
	m := New(Config{Timeouts: to}, nil, nil)
	mustTransition(t, m, EventConnect)
	m.Close()

	time.Sleep(60 * time.Millisecond)
	if got := m.State(); got != StateConnecting {
		t.Errorf("timer fired after Close: %s", got)
	}
	if err := m.Transition(EventConnected, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Transition after Close = %v", err)
	}
}

func TestTimeouts_Defaults(t *testing.T) {
	t.Parallel()
	d := Timeouts{}.orDefault()
	tests := []struct {
		state State
		want  time.Duration
	}{
		{StateConnecting, 15 * time.Second},
		{StateAwaitingSessionCreated, 5 * time.Second},
		{StateAwaitingResponse, 30 * time.Second},
		{StateAwaitingTranscript, 10 * time.Second},
		{StateIdle, 0},
		{StateRecording, 0},
	}
	for _, tt := range tests {
		if got := d.For(tt.state); got != tt.want {
			t.Errorf("For(%s) = %v, want %v", tt.state, got, tt.want)
		}
	}
	if got := (Timeouts{Connecting: -1}).orDefault().For(StateConnecting); got != 0 {
		t.Errorf("negative timeout should disable guard, got %v", got)
	}
}
