package realtime

import (
	"time"

	"github.com/MrWong99/voxorder/internal/order"
	"github.com/MrWong99/voxorder/internal/session"
)

// Event is one item of the typed event stream consumed by the UI layer. The
// concrete types below are the complete vocabulary.
type Event interface {
	isEvent()
}

// StateChanged reports one accepted state transition.
type StateChanged struct {
	From   session.State
	To     session.State
	Event  session.Event
	At     time.Time
	Forced bool
	Reason string
}

// Transcript is a user utterance. Partial transcripts carry the text
// accumulated so far; the final one closes the utterance.
type Transcript struct {
	ItemID     string
	Text       string
	Final      bool
	Confidence *float64
}

// Response is assistant output text. Partial responses carry the text
// accumulated so far.
type Response struct {
	ResponseID string
	Text       string
	Final      bool
	AudioURL   string
}

// OrderIntent reports an intent handed to the cart. Err is the sink's
// rejection, if any.
type OrderIntent struct {
	Intent order.Intent
	Err    error
}

// AudioOutput is synthesized PCM16 audio for playback.
type AudioOutput struct {
	ResponseID string
	PCM        []byte
}

// SpeechStarted is the server-side VAD barge-in hint: the guest started
// talking, so playback of the current response should stop.
type SpeechStarted struct {
	ItemID       string
	AudioStartMs int
}

// RateLimited tells the caller to back off. The connection stays open.
type RateLimited struct {
	RetryAfter time.Duration
	Bucket     string
}

// ErrorKind classifies errors surfaced as events.
type ErrorKind string

const (
	// KindPermission is a microphone permission or device failure. Fatal to
	// recording until the caller retries.
	KindPermission ErrorKind = "permission"

	// KindTransport is an exhausted reconnect budget.
	KindTransport ErrorKind = "transport"

	// KindTimeout is a connection-establishment timeout.
	KindTimeout ErrorKind = "timeout"

	// KindRemote is an error reported by the remote service.
	KindRemote ErrorKind = "remote"

	// KindPayload is a dropped malformed payload. Informational only.
	KindPayload ErrorKind = "payload"
)

// Error is a surfaced failure.
type Error struct {
	Kind ErrorKind
	Err  error
	Code string
}

func (StateChanged) isEvent()  {}
func (Transcript) isEvent()    {}
func (Response) isEvent()      {}
func (OrderIntent) isEvent()   {}
func (AudioOutput) isEvent()   {}
func (SpeechStarted) isEvent() {}
func (RateLimited) isEvent()   {}
func (Error) isEvent()         {}

// TranscriptEntry is one finalized utterance in the transcript log.
type TranscriptEntry struct {
	ItemID string

	// Role is "user" or "assistant".
	Role       string
	Text       string
	Confidence *float64

	// FinalizedAt orders the log.
	FinalizedAt time.Time
}

// Roles used in [TranscriptEntry].
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
