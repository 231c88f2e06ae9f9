// Package protocol defines the wire vocabulary spoken between the voice
// client and the remote speech/dialogue service.
//
// Every frame is a JSON envelope {type, event_id, data, timestamp}. The type
// tag selects exactly one payload shape; [Message.Payload] returns that shape
// as a concrete Go type so consumers can switch on it instead of poking at
// untyped maps. Frames are validated by [Decode] at the transport boundary
// before anything else sees them.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformed is returned by [Decode] for frames that are not a valid
	// envelope.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrUnknownType is returned by [Message.Payload] for type tags outside
	// the vocabulary.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Outbound message types.
const (
	TypeSessionStart        = "session.start"
	TypeSessionUpdate       = "session.update"
	TypeAudio               = "audio"
	TypeInputAudioCommit    = "input_audio_buffer.commit"
	TypeInputAudioClear     = "input_audio_buffer.clear"
	TypeResponseCreate      = "response.create"
	TypeResponseCancel      = "response.cancel"
	TypeConversationItemAdd = "conversation.item.create"
)

// Inbound message types.
const (
	TypeSessionStarted = "session.started"
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"

	TypeInputAudioCommitted     = "input_audio_buffer.committed"
	TypeInputAudioSpeechStarted = "input_audio_buffer.speech_started"
	TypeInputAudioSpeechStopped = "input_audio_buffer.speech_stopped"

	TypeTranscript             = "transcript"
	TypeTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"

	TypeResponseCreated              = "response.created"
	TypeResponseTextDelta            = "response.text.delta"
	TypeResponseTextDone             = "response.text.done"
	TypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone  = "response.audio_transcript.done"
	TypeResponseAudioDelta           = "response.audio.delta"
	TypeResponse                     = "response"
	TypeFunctionCallArgumentsDone    = "response.function_call_arguments.done"
	TypeResponseDone                 = "response.done"

	TypeRateLimitsUpdated = "rate_limits.updated"
	TypeError             = "error"
	TypePong              = "pong"
)

// TypeHeartbeat is sent by both sides as a keepalive.
const TypeHeartbeat = "heartbeat"

// Message is the wire envelope.
type Message struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewMessage builds an outbound envelope with a fresh event id and the current
// time in Unix milliseconds. A nil payload leaves Data empty.
func NewMessage(typ string, payload any) (Message, error) {
	m := Message{
		Type:      typ,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("protocol: marshal %s: %w", typ, err)
		}
		m.Data = data
	}
	return m, nil
}

// Encode returns the JSON form of m.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Time returns the envelope timestamp, or the zero time when absent.
func (m Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// Decode parses and validates one inbound frame. The type tag must be
// present. Frames that carry their fields at the top level instead of under
// "data" (the native realtime event shape) are accepted: the whole object then
// becomes the payload.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if len(m.Data) == 0 || bytes.Equal(m.Data, []byte("null")) {
		m.Data = append(json.RawMessage(nil), raw...)
	}
	return m, nil
}

// Payload decodes Data into the payload type registered for m.Type and
// returns it as a value (not a pointer). Types with no fields decode to
// [Empty].
func (m Message) Payload() (any, error) {
	newFn, ok := payloads[m.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	p := newFn()
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type, err)
		}
	}
	return deref(p), nil
}

// As decodes the payload of m into T. It is a typed shorthand for
// [Message.Payload] when the caller already knows the tag.
func As[T any](m Message) (T, error) {
	var zero T
	p, err := m.Payload()
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("protocol: %s carries %T, not %T", m.Type, p, zero)
	}
	return v, nil
}

// Known reports whether typ is part of the vocabulary.
func Known(typ string) bool {
	_, ok := payloads[typ]
	return ok
}

var payloads = map[string]func() any{
	TypeSessionStart:        func() any { return new(SessionStart) },
	TypeSessionUpdate:       func() any { return new(SessionDescriptor) },
	TypeAudio:               func() any { return new(AudioChunk) },
	TypeInputAudioCommit:    func() any { return new(Empty) },
	TypeInputAudioClear:     func() any { return new(Empty) },
	TypeResponseCreate:      func() any { return new(Empty) },
	TypeResponseCancel:      func() any { return new(Empty) },
	TypeConversationItemAdd: func() any { return new(ConversationItemCreate) },

	TypeSessionStarted: func() any { return new(SessionStatus) },
	TypeSessionCreated: func() any { return new(SessionStatus) },
	TypeSessionUpdated: func() any { return new(SessionStatus) },

	TypeInputAudioCommitted:     func() any { return new(AudioCommitted) },
	TypeInputAudioSpeechStarted: func() any { return new(SpeechStarted) },
	TypeInputAudioSpeechStopped: func() any { return new(SpeechStopped) },

	TypeTranscript:             func() any { return new(Transcript) },
	TypeTranscriptionDelta:     func() any { return new(TranscriptionDelta) },
	TypeTranscriptionCompleted: func() any { return new(TranscriptionCompleted) },

	TypeResponseCreated:              func() any { return new(ResponseLifecycle) },
	TypeResponseTextDelta:            func() any { return new(ResponseDelta) },
	TypeResponseTextDone:             func() any { return new(ResponseTextDone) },
	TypeResponseAudioTranscriptDelta: func() any { return new(ResponseDelta) },
	TypeResponseAudioTranscriptDone:  func() any { return new(ResponseTextDone) },
	TypeResponseAudioDelta:           func() any { return new(ResponseDelta) },
	TypeResponse:                     func() any { return new(Response) },
	TypeFunctionCallArgumentsDone:    func() any { return new(FunctionCall) },
	TypeResponseDone:                 func() any { return new(ResponseLifecycle) },

	TypeRateLimitsUpdated: func() any { return new(RateLimits) },
	TypeError:             func() any { return new(Error) },
	TypeHeartbeat:         func() any { return new(Empty) },
	TypePong:              func() any { return new(Empty) },
}

func deref(p any) any {
	switch v := p.(type) {
	case *SessionStart:
		return *v
	case *SessionDescriptor:
		return *v
	case *AudioChunk:
		return *v
	case *Empty:
		return *v
	case *ConversationItemCreate:
		return *v
	case *SessionStatus:
		return *v
	case *AudioCommitted:
		return *v
	case *SpeechStarted:
		return *v
	case *SpeechStopped:
		return *v
	case *Transcript:
		return *v
	case *TranscriptionDelta:
		return *v
	case *TranscriptionCompleted:
		return *v
	case *ResponseLifecycle:
		return *v
	case *ResponseDelta:
		return *v
	case *ResponseTextDone:
		return *v
	case *Response:
		return *v
	case *FunctionCall:
		return *v
	case *RateLimits:
		return *v
	case *Error:
		return *v
	}
	return p
}
