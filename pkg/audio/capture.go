// Package audio implements the client-side audio pipeline of a voice-ordering
// session: microphone capture, resampling to the wire rate, fixed-size
// framing, energy-based voice-activity detection and PCM16 encoding.
//
// The hardware boundary is the [Device] / [Stream] pair. Platform adapters
// (browser bridges, ALSA shims, the file-backed [ReaderDevice]) implement
// these interfaces; the [Pipeline] owns the resulting stream exclusively and
// releases it on [Pipeline.Destroy].
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses microphone
	// access. It is surfaced once; callers must retry explicitly.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrNoDevice is returned when no capture device is available.
	ErrNoDevice = errors.New("audio: no capture device")

	// ErrNotInitialized is returned by [Pipeline.Start] before a successful
	// [Pipeline.RequestPermissions].
	ErrNotInitialized = errors.New("audio: pipeline not initialized")

	// ErrDestroyed is returned by any [Pipeline] method after Destroy.
	ErrDestroyed = errors.New("audio: pipeline destroyed")
)

// Constraints are the processing options requested when opening a device.
// Devices that cannot honour an option should ignore it rather than fail.
type Constraints struct {
	// SampleRate is the preferred capture rate in Hz. The stream reports the
	// rate it actually delivers via [Stream.SampleRate].
	SampleRate int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints returns 16 kHz capture with echo cancellation, noise
// suppression and automatic gain control enabled.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Device is a source of microphone streams. Open may block while the user is
// asked for permission; it must respect ctx cancellation.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an opened microphone. Start begins periodic callbacks on a
// device-owned goroutine; Stop halts them and must not return until no
// callback is running. Close releases the device and is idempotent.
type Stream interface {
	SampleRate() int
	Start(onFrame func(Frame)) error
	Stop() error
	Close() error
}

// ReaderDevice is a [Device] backed by an [io.Reader] of little-endian
// PCM16. Multi-channel input is downmixed to mono. Callbacks are paced in real time at Tick so a recorded file behaves
// like a live microphone. It can be opened once.
type ReaderDevice struct {
	// R supplies PCM16 samples at SampleRate.
	R io.Reader

	// SampleRate of R in Hz. Default: 16000.
	SampleRate int

	// Channels is the number of interleaved channels in R. Default: 1.
	Channels int

	// Tick is the callback period. Default: 20ms.
	Tick time.Duration

	mu     sync.Mutex
	opened bool
}

// Open implements [Device].
func (d *ReaderDevice) Open(ctx context.Context, _ Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.R == nil {
		return nil, ErrNoDevice
	}
	if d.opened {
		return nil, fmt.Errorf("audio: reader device already open")
	}
	d.opened = true

	rate := d.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	tick := d.Tick
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}
	return &readerStream{r: d.R, rate: rate, channels: max(d.Channels, 1), tick: tick}, nil
}

type readerStream struct {
	r        io.Reader
	rate     int
	channels int
	tick     time.Duration

	mu     sync.Mutex
	stop   chan struct{}
	wg     sync.WaitGroup
	eof    bool
	closed bool
}

func (s *readerStream) SampleRate() int { return s.rate }

func (s *readerStream) Start(onFrame func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoDevice
	}
	if s.stop != nil {
		return fmt.Errorf("audio: stream already started")
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop, onFrame)
	return nil
}

func (s *readerStream) loop(stop <-chan struct{}, onFrame func(Frame)) {
	defer s.wg.Done()

	samplesPerTick := int(int64(s.rate) * int64(s.tick) / int64(time.Second))
	frameBytes := 2 * s.channels
	buf := make([]byte, samplesPerTick*frameBytes)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		eof := s.eof
		s.mu.Unlock()
		if eof {
			continue
		}

		n, err := io.ReadFull(s.r, buf)
		if n >= frameBytes {
			onFrame(Frame{
				Samples:    DecodePCM16(DownmixPCM16(buf[:n], s.channels)),
				SampleRate: s.rate,
				CapturedAt: time.Now(),
			})
		}
		if err != nil {
			s.mu.Lock()
			s.eof = true
			s.mu.Unlock()
		}
	}
}

func (s *readerStream) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
	return nil
}

func (s *readerStream) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
