package protocol

import (
	"encoding/json"
	"strings"
)

// Empty is the payload of types that carry no fields (commit, clear,
// response.create, response.cancel, heartbeat, pong).
type Empty struct{}

// ── Outbound ──────────────────────────────────────────────────────────────────

// SessionStart announces the tenant a session belongs to.
type SessionStart struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	Context  string `json:"context,omitempty"`
}

// AudioChunk is one encoded microphone frame.
type AudioChunk struct {
	Audio     string `json:"audio"` // base64-encoded PCM16
	HasVoice  bool   `json:"has_voice"`
	Timestamp int64  `json:"timestamp"`
}

// ConversationItemCreate returns a tool result to the model.
type ConversationItemCreate struct {
	Item ConversationItem `json:"item"`
}

// ConversationItem is the function_call_output item.
type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// FunctionCallOutput builds the conversation.item.create payload that answers
// a function call.
func FunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{Item: ConversationItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}}
}

// ── Inbound: session ──────────────────────────────────────────────────────────

// SessionStatus is carried by session.started, session.created and
// session.updated.
type SessionStatus struct {
	SessionID string          `json:"session_id,omitempty"`
	Session   json.RawMessage `json:"session,omitempty"`
}

// ── Inbound: input audio buffer ───────────────────────────────────────────────

// AudioCommitted confirms the input buffer was committed as a conversation item.
type AudioCommitted struct {
	ItemID         string `json:"item_id,omitempty"`
	PreviousItemID string `json:"previous_item_id,omitempty"`
}

// SpeechStarted is emitted by server-side VAD when the user starts talking.
type SpeechStarted struct {
	ItemID       string `json:"item_id,omitempty"`
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
}

// SpeechStopped is emitted by server-side VAD when the user stops talking.
type SpeechStopped struct {
	ItemID     string `json:"item_id,omitempty"`
	AudioEndMs int    `json:"audio_end_ms,omitempty"`
}

// ── Inbound: transcripts ──────────────────────────────────────────────────────

// Transcript is the simple transcript shape: {text, isFinal, confidence?}.
type Transcript struct {
	ItemID     string   `json:"item_id,omitempty"`
	Text       string   `json:"text"`
	IsFinal    bool     `json:"isFinal"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TranscriptionDelta is one incremental piece of a user transcription.
type TranscriptionDelta struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index,omitempty"`
	Delta        string `json:"delta"`
}

// TranscriptionCompleted carries the final user transcription of an item.
type TranscriptionCompleted struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index,omitempty"`
	Transcript   string `json:"transcript"`
}

// ── Inbound: responses ────────────────────────────────────────────────────────

// ResponseInfo identifies one model response.
type ResponseInfo struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}

// ResponseLifecycle is carried by response.created and response.done.
type ResponseLifecycle struct {
	Response ResponseInfo `json:"response"`
}

// ResponseDelta is an incremental text, transcript or audio chunk. For
// response.audio.delta, Delta is base64 PCM16.
type ResponseDelta struct {
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
}

// ResponseTextDone closes a text or audio-transcript stream.
type ResponseTextDone struct {
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Final returns whichever of Text or Transcript is set.
func (d ResponseTextDone) Final() string {
	if d.Text != "" {
		return d.Text
	}
	return d.Transcript
}

// Response is the simple response shape: {text, audioUrl?|audioData?}. A
// missing isFinal means final.
type Response struct {
	Text      string `json:"text"`
	AudioURL  string `json:"audioUrl,omitempty"`
	AudioData string `json:"audioData,omitempty"`
	IsFinal   *bool  `json:"isFinal,omitempty"`
}

// Final reports whether r closes the turn.
func (r Response) Final() bool { return r.IsFinal == nil || *r.IsFinal }

// FunctionCall is a completed tool invocation from the model. Arguments is
// the raw JSON argument object; it is accepted on the wire either as a JSON
// string or as an inline object.
type FunctionCall struct {
	Name      string `json:"name"`
	CallID    string `json:"call_id,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON implements [json.Unmarshaler].
func (f *FunctionCall) UnmarshalJSON(b []byte) error {
	var aux struct {
		Name      string          `json:"name"`
		CallID    string          `json:"call_id"`
		ItemID    string          `json:"item_id"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*f = FunctionCall{Name: aux.Name, CallID: aux.CallID, ItemID: aux.ItemID}
	raw := strings.TrimSpace(string(aux.Arguments))
	switch {
	case raw == "" || raw == "null":
	case raw[0] == '"':
		if err := json.Unmarshal(aux.Arguments, &f.Arguments); err != nil {
			return err
		}
	default:
		f.Arguments = raw
	}
	return nil
}

// ── Inbound: service signals ──────────────────────────────────────────────────

// RateLimit is one bucket reported by rate_limits.updated.
type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// RateLimits is the rate_limits.updated payload.
type RateLimits struct {
	RateLimits []RateLimit `json:"rate_limits"`
}

// Exhausted returns the first bucket with nothing remaining.
func (r RateLimits) Exhausted() (RateLimit, bool) {
	for _, l := range r.RateLimits {
		if l.Remaining <= 0 && l.Limit > 0 {
			return l, true
		}
	}
	return RateLimit{}, false
}

// Error codes with dedicated recovery paths.
const (
	CodeSessionExpired    = "session_expired"
	CodeRateLimitExceeded = "rate_limit_exceeded"
)

// Error is a remote-service error. Both the flat {message, code} shape and the
// nested {"error": {...}} realtime shape are accepted.
type Error struct {
	Message    string  `json:"message"`
	Code       string  `json:"code,omitempty"`
	Type       string  `json:"type,omitempty"`
	Param      string  `json:"param,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// UnmarshalJSON implements [json.Unmarshaler].
func (e *Error) UnmarshalJSON(b []byte) error {
	type plain Error
	var aux struct {
		plain
		Nested *plain `json:"error"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Nested != nil {
		*e = Error(*aux.Nested)
		return nil
	}
	*e = Error(aux.plain)
	if e.Type == TypeError {
		e.Type = ""
	}
	return nil
}

// HasCode reports whether e carries the given code, matching either Code or Type.
func (e Error) HasCode(code string) bool {
	return e.Code == code || e.Type == code
}

// String implements [fmt.Stringer].
func (e Error) String() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}
