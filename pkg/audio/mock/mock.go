// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Stream] for unit tests.
//
// The mocks record every call so tests can assert on call counts, and expose
// exported fields that control return values. Audio is injected by calling
// [Stream.Push], which invokes the registered callback synchronously, giving
// tests exact control over tick ordering.
//
// Typical usage:
//
//	stream := &mock.Stream{Rate: 16000}
//	dev := &mock.Device{StreamResult: stream}
//	p, _ := audio.NewPipeline(dev, audio.PipelineConfig{}, nil)
//	_ = p.RequestPermissions(ctx)
//	_ = p.Start(collect)
//	stream.Push(make([]float32, 320))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxorder/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// StreamResult is returned by Open when OpenError is nil. When nil, Open
	// returns a fresh 16 kHz [Stream].
	StreamResult *Stream

	// OpenError is returned by Open (e.g. audio.ErrPermissionDenied).
	OpenError error

	// OpenCalls records the constraints passed to each Open call.
	OpenCalls []audio.Constraints
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, c)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.StreamResult == nil {
		d.StreamResult = &Stream{Rate: 16000}
	}
	return d.StreamResult, nil
}

// OpenCount returns how many times Open was called.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu sync.Mutex

	// Rate is reported by SampleRate. Default: 16000.
	Rate int

	// StartError is returned by Start.
	StartError error

	CallCountStart int
	CallCountStop  int
	CallCountClose int

	onFrame func(audio.Frame)
}

// SampleRate implements [audio.Stream].
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Rate <= 0 {
		return 16000
	}
	return s.Rate
}

// Start implements [audio.Stream].
func (s *Stream) Start(onFrame func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.onFrame = onFrame
	return nil
}

// Stop implements [audio.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.onFrame = nil
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.onFrame = nil
	return nil
}

// Active reports whether a callback is currently registered.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onFrame != nil
}

// Push delivers samples to the registered callback as one capture tick. It
// reports false when the stream is not started.
func (s *Stream) Push(samples []float32) bool {
	s.mu.Lock()
	cb := s.onFrame
	rate := s.Rate
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	if rate <= 0 {
		rate = 16000
	}
	cb(audio.Frame{Samples: samples, SampleRate: rate, CapturedAt: time.Now()})
	return true
}
