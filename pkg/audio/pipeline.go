package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PipelineConfig tunes the capture → wire transformation.
type PipelineConfig struct {
	// Constraints are passed to [Device.Open]. Zero value: [DefaultConstraints].
	Constraints Constraints

	// WireRate is the sample rate the remote service expects. Default: 24000.
	WireRate int

	// FrameDuration is the length of each emitted frame, 20–40 ms. Default: 20ms.
	FrameDuration time.Duration

	// VADThreshold is the RMS level above which a frame counts as voice.
	VADThreshold float64

	// VADWindow is the number of frames averaged by the detector.
	VADWindow int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.Constraints == (Constraints{}) {
		c.Constraints = DefaultConstraints()
	}
	if c.WireRate <= 0 {
		c.WireRate = 24000
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = MinFrameDuration
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.VADWindow <= 0 {
		c.VADWindow = DefaultVADWindow
	}
	return c
}

// Pipeline turns a live microphone stream into wire-ready [EncodedFrame]s:
// capture → resample → frame → VAD → PCM16. It has no knowledge of session
// state; callers decide what to do with each frame.
//
// The frame callback runs on the device goroutine while the pipeline lock is
// held, so frames are delivered strictly in order and the trailing flush from
// [Pipeline.Stop] is always last. The callback must not call back into the
// Pipeline.
//
// All methods are safe for concurrent use.
type Pipeline struct {
	device Device
	cfg    PipelineConfig
	logger *slog.Logger

	mu        sync.Mutex
	stream    Stream
	resampler Resampler
	framer    *Framer
	vad       *EnergyDetector
	onFrame   func(EncodedFrame)
	running   bool
	destroyed bool

	// bufStart is the capture time of the first sample held by the framer.
	bufStart time.Time
}

// NewPipeline creates a pipeline for device. Nothing is opened until
// [Pipeline.RequestPermissions].
func NewPipeline(device Device, cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if _, err := FrameSize(cfg.WireRate, cfg.FrameDuration); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		device: device,
		cfg:    cfg,
		logger: logger.With("component", "audio"),
		vad:    NewEnergyDetector(cfg.VADThreshold, cfg.VADWindow),
	}, nil
}

// RequestPermissions opens the capture device. A failure is returned as-is
// (wrapping [ErrPermissionDenied] or [ErrNoDevice] where the device reports
// them) and is never retried internally. Calling it again after success is a
// no-op.
func (p *Pipeline) RequestPermissions(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	if p.stream != nil {
		return nil
	}
	if p.device == nil {
		return ErrNoDevice
	}

	stream, err := p.device.Open(ctx, p.cfg.Constraints)
	if err != nil {
		p.logger.Warn("microphone initialisation failed", "err", err)
		return fmt.Errorf("audio: open device: %w", err)
	}
	p.stream = stream
	p.logger.Info("microphone ready",
		"capture_rate", stream.SampleRate(),
		"wire_rate", p.cfg.WireRate,
		"frame", p.cfg.FrameDuration,
	)
	return nil
}

// Initialized reports whether the device has been opened.
func (p *Pipeline) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Running reports whether frames are currently being delivered.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetVADThreshold changes the detector threshold for subsequent frames.
func (p *Pipeline) SetVADThreshold(threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vad.SetThreshold(threshold)
}

// Start begins delivering encoded frames to onFrame until [Pipeline.Stop].
// The VAD window and framer are reset on every start.
func (p *Pipeline) Start(onFrame func(EncodedFrame)) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	if p.stream == nil {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	if p.running {
		p.mu.Unlock()
		return errors.New("audio: pipeline already running")
	}

	size, _ := FrameSize(p.cfg.WireRate, p.cfg.FrameDuration)
	p.resampler = Resampler{From: p.stream.SampleRate(), To: p.cfg.WireRate}
	p.framer = NewFramer(size)
	p.vad.Reset()
	p.onFrame = onFrame
	p.running = true
	p.bufStart = time.Time{}
	stream := p.stream
	p.mu.Unlock()

	if err := stream.Start(p.handleCapture); err != nil {
		p.mu.Lock()
		p.running = false
		p.onFrame = nil
		p.mu.Unlock()
		return fmt.Errorf("audio: start stream: %w", err)
	}
	return nil
}

// Stop halts capture and flushes any partial trailing frame through the
// callback before returning. Stopping an idle pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stream := p.stream
	p.mu.Unlock()

	var stopErr error
	if stream != nil {
		// Callbacks still in flight are processed normally; Stop waits for them.
		stopErr = stream.Stop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tail := p.framer.Flush(); tail != nil {
		p.emit(tail)
	}
	p.running = false
	p.onFrame = nil
	if stopErr != nil {
		return fmt.Errorf("audio: stop stream: %w", stopErr)
	}
	return nil
}

// Destroy stops capture and releases the device. Idempotent.
func (p *Pipeline) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	stream := p.stream
	p.stream = nil
	p.running = false
	p.onFrame = nil
	p.mu.Unlock()

	if stream == nil {
		return nil
	}
	_ = stream.Stop()
	if err := stream.Close(); err != nil {
		return fmt.Errorf("audio: close stream: %w", err)
	}
	p.logger.Info("microphone released")
	return nil
}

// handleCapture is the device callback.
func (p *Pipeline) handleCapture(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || len(f.Samples) == 0 {
		return
	}

	if p.resampler.From != f.SampleRate && f.SampleRate > 0 {
		p.resampler.From = f.SampleRate
	}
	resampled := p.resampler.Process(f.Samples)

	if p.framer.Buffered() == 0 {
		p.bufStart = f.CapturedAt
	}
	for _, frame := range p.framer.Write(resampled) {
		p.emit(frame)
	}
}

// emit encodes and delivers one frame. Must be called with p.mu held.
func (p *Pipeline) emit(samples []float32) {
	_, voice := p.vad.Process(samples)
	ef := EncodedFrame{
		Data:       EncodePCM16(samples),
		HasVoice:   voice,
		SampleRate: p.cfg.WireRate,
		CapturedAt: p.bufStart,
	}
	if !p.bufStart.IsZero() {
		p.bufStart = p.bufStart.Add(ef.Duration())
	}
	if p.onFrame != nil {
		p.onFrame(ef)
	}
}
