package audio

import (
	"encoding/base64"
	"time"
)

// Frame is one windowed slice of captured audio as delivered by a [Stream]
// callback. Samples are normalised to [-1, 1]. Frames are consumed immediately
// by the resampler and framer and are never retained by the pipeline.
type Frame struct {
	// Samples holds mono float samples at SampleRate.
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for a typical kiosk microphone).
	SampleRate int

	// CapturedAt is the wall-clock time the device produced this slice.
	CapturedAt time.Time
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// EncodedFrame is a transport-ready audio unit: mono 16-bit little-endian PCM
// at the wire sample rate, annotated with the voice-activity decision for the
// frame. It is owned by the message about to be sent and discarded afterwards.
type EncodedFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// HasVoice reports whether the VAD considered this frame speech.
	HasVoice bool

	// SampleRate of Data in Hz.
	SampleRate int

	// CapturedAt is the capture timestamp of the first sample in the frame.
	CapturedAt time.Time
}

// Base64 returns the text-safe transport encoding of Data.
func (f EncodedFrame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// Duration returns the playback length of the encoded frame.
func (f EncodedFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)/2) * time.Second / time.Duration(f.SampleRate)
}
